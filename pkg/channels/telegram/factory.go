package telegram

import (
	"fmt"

	"foreman/pkg/api"
	"foreman/pkg/channels"
	"foreman/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramFactory handles creation of Telegram channels.
type TelegramFactory struct{}

// Create implements ChannelFactory
func (f *TelegramFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (api.Channel, error) {
	var pCfg TelegramConfig
	if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}
	if pCfg.Token == "" {
		return nil, fmt.Errorf("telegram channel requires a bot token")
	}
	return NewTelegramChannel(pCfg)
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}
