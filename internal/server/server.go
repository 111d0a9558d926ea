// Package server exposes the scan state over a websocket endpoint:
// every tick update is broadcast to connected clients, and clients
// send channel override commands back.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radiowatch/chanscan/internal/coord"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 8
)

// Controller is the coordinator surface the server needs.
type Controller interface {
	Command(coord.Command) error
	Subscribe() (<-chan coord.Update, func())
}

// Config holds the control endpoint settings.
type Config struct {
	Listen string `yaml:"listen"`
}

// request is an inbound client command frame.
type request struct {
	Type      string    `json:"type"`
	ChannelID string    `json:"channelId"`
	On        bool      `json:"on"`
	Until     time.Time `json:"until,omitempty"`
}

// response acknowledges a command frame.
type response struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

var commandTypes = map[string]coord.CommandType{
	"channelHold":         coord.CmdHold,
	"channelMute":         coord.CmdMute,
	"channelSolo":         coord.CmdSolo,
	"channelEnable":       coord.CmdEnable,
	"channelDisableUntil": coord.CmdDisableUntil,
	"channelForceActive":  coord.CmdForceActive,
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "server"))
	}
}

// Server broadcasts tick updates to websocket clients and relays their
// commands to the controller. A slow client misses updates rather than
// stalling the broadcast.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	ctrl     Controller
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte // last broadcast frame, sent to new clients
}

// New creates a server over the given controller.
func New(cfg Config, ctrl Controller, options ...func(*Server)) *Server {
	s := Server{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctrl:   ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Run serves the control endpoint until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	updates, cancel := s.ctrl.Subscribe()
	defer cancel()

	go func() {
		for u := range updates {
			s.broadcast(u)
		}
	}()

	srv := http.Server{
		Addr:        s.cfg.Listen,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), writeWait)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("control endpoint listening", slog.String("addr", s.cfg.Listen))

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control endpoint: %w", err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := client{conn: conn, send: make(chan []byte, sendBuffer)}

	s.mu.Lock()
	s.clients[&c] = struct{}{}
	if s.last != nil {
		c.send <- s.last
	}
	s.mu.Unlock()

	s.logger.Info("client connected", slog.String("remote", conn.RemoteAddr().String()))

	go c.writePump()
	s.readPump(&c)
}

func (s *Server) broadcast(u coord.Update) {
	frame, err := json.Marshal(struct {
		Type string       `json:"type"`
		Data coord.Update `json:"data"`
	}{Type: "update", Data: u})
	if err != nil {
		s.logger.Error("marshalling update", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = frame
	for c := range s.clients {
		select {
		case c.send <- frame:
		default: // behind, the next full snapshot catches it up
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}

// readPump relays client command frames to the controller and answers
// each with a result frame. It owns the connection's read side.
func (s *Server) readPump(c *client) {
	defer s.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("client read failed", slog.String("error", err.Error()))
			}
			return
		}

		s.respond(c, s.dispatch(req))
	}
}

func (s *Server) dispatch(req request) error {
	cmdType, ok := commandTypes[req.Type]
	if !ok {
		return fmt.Errorf("unknown command type '%s'", req.Type)
	}

	return s.ctrl.Command(coord.Command{
		Type:      cmdType,
		ChannelID: req.ChannelID,
		On:        req.On,
		Until:     req.Until,
	})
}

func (s *Server) respond(c *client, err error) {
	res := response{Type: "result", OK: err == nil}
	if err != nil {
		res.Error = err.Error()
	}

	frame, merr := json.Marshal(res)
	if merr != nil {
		return
	}

	select {
	case c.send <- frame:
	default:
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// writePump owns the connection's write side: queued frames plus
// keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
