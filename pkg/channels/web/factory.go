package web

import (
	"fmt"

	"foreman/pkg/api"
	"foreman/pkg/channels"
	"foreman/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// WebFactory handles creation of web channels.
type WebFactory struct{}

// Create implements ChannelFactory
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (api.Channel, error) {
	var pCfg WebConfig
	pCfg.Port = 8080

	if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
		return nil, fmt.Errorf("failed to parse web config: %w", err)
	}

	return NewWebChannel(pCfg), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
