package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"foreman/pkg/api"
	"foreman/pkg/utils"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

type WebConfig struct {
	Port int `json:"port"` // Default: 8080
}

// IncomingMessage is one client frame on the websocket.
type IncomingMessage struct {
	UserID       string `json:"user_id,omitempty"`
	Conversation string `json:"conversation,omitempty"`
	Message      string `json:"message"`
	Context      string `json:"context,omitempty"`
}

// OutgoingMessage is the reply frame sent back to the client.
type OutgoingMessage struct {
	Text string  `json:"text"`
	Plan *string `json:"plan,omitempty"`
}

// SafeConn serializes writes on a websocket connection.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// WebChannel exposes the agent over a websocket endpoint at /ws. Each
// connection is one user; the user identity comes from the ?user query
// parameter or is generated for the connection's lifetime.
type WebChannel struct {
	config      WebConfig
	server      *http.Server
	connections map[string]*SafeConn // UserID -> WS connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig) *WebChannel {
	return &WebChannel{
		config:      cfg,
		connections: make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})

	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("Web API listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *WebChannel) Send(session api.SessionContext, result *api.ChatResult) error {
	c.mu.RLock()
	conn, ok := c.connections[session.UserID]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("web user %s not connected", session.UserID)
	}

	payload, err := json.Marshal(OutgoingMessage{Text: result.Text, Plan: result.Plan})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}

	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = utils.GenerateID()
	}

	safe := &SafeConn{Conn: conn}
	c.mu.Lock()
	c.connections[userID] = safe
	c.mu.Unlock()

	slog.Info("Web client connected", "user", userID)

	defer func() {
		c.mu.Lock()
		delete(c.connections, userID)
		c.mu.Unlock()
		conn.Close()
		slog.Info("Web client disconnected", "user", userID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var in IncomingMessage
		if err := json.Unmarshal(data, &in); err != nil {
			slog.Warn("Dropping malformed web message", "user", userID, "error", err)
			continue
		}
		if in.Message == "" {
			continue
		}

		// A frame may self-identify; re-key the connection so replies route.
		if in.UserID != "" && in.UserID != userID {
			c.mu.Lock()
			delete(c.connections, userID)
			userID = in.UserID
			c.connections[userID] = safe
			c.mu.Unlock()
		}

		conv := in.Conversation
		if conv == "" {
			conv = userID
		}

		ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: api.SessionContext{
				ChannelID: c.ID(),
				UserID:    userID,
				ChatID:    conv,
				Username:  userID,
			},
			Content:      in.Message,
			Conversation: conv,
			Context:      in.Context,
			DebugID:      utils.GenerateID(),
		})
	}
}
