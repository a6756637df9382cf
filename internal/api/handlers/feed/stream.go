// Package feed streams live feed state to clients over a websocket.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"Huddle/internal/api/middleware"
	feedview "Huddle/internal/core/feed"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	// maxClientMessage bounds client frames; they only carry actions
	maxClientMessage = 4 << 10
)

// Client actions
const (
	ActionRefresh = "refresh"
	ActionRetry   = "retry"
)

// StateFrame is pushed after every view state transition
type StateFrame struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
	feedview.State
}

// ErrorFrame reports a rejected client action
type ErrorFrame struct {
	Type    string `json:"type"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

type clientMessage struct {
	Action string `json:"action"`
}

// StreamHandler serves GET /api/feed/stream
type StreamHandler struct {
	source   feedview.Source
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a stream handler. allowedOrigins restricts browser origins;
// empty or "*" allows any origin.
func NewStreamHandler(source feedview.Source, allowedOrigins []string) *StreamHandler {
	h := &StreamHandler{source: source}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// HandleStream upgrades the connection and mounts one feed view for its lifetime.
// Closing the connection unmounts the view.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		slog.Debug("[FEED] websocket upgrade failed", "error", err)
		return
	}

	userID := ""
	if u := middleware.GetUser(r); u != nil {
		userID = u.ID
	}
	slog.Info("[FEED] stream opened", "remote", r.RemoteAddr, "user_id", userID)

	s := &stream{
		conn:    conn,
		vm:      feedview.NewViewModel(h.source),
		dirty:   make(chan struct{}, 1),
		replies: make(chan ErrorFrame, 8),
		done:    make(chan struct{}),
	}
	s.run(r)

	slog.Info("[FEED] stream closed", "remote", r.RemoteAddr, "user_id", userID)
}

// stream is one websocket connection. Only writeLoop writes to conn.
type stream struct {
	conn      *websocket.Conn
	vm        *feedview.ViewModel
	dirty     chan struct{}
	replies   chan ErrorFrame
	done      chan struct{}
	closeOnce sync.Once
}

func (s *stream) run(r *http.Request) {
	ctx := r.Context()
	defer func() {
		if err := s.conn.Close(); err != nil {
			slog.Debug("[FEED] failed to close websocket", "error", err)
		}
	}()

	// Server shutdown ends the stream; hijacked connections are not closed by http.Server
	stopAfter := context.AfterFunc(ctx, func() {
		s.shutdown()
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stopAfter()

	stopListening := s.vm.OnChange(func(feedview.State) {
		// Coalesce: the writer always sends the newest state
		select {
		case s.dirty <- struct{}{}:
		default:
		}
	})
	defer stopListening()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	if err := s.vm.Mount(ctx); err != nil {
		// The view is in the error phase; the client may retry
		slog.Warn("[FEED] initial subscribe failed", "error", err)
	}
	defer s.vm.Unmount()

	s.readLoop(r)
	s.shutdown()
	<-writerDone
}

func (s *stream) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *stream) readLoop(r *http.Request) {
	s.conn.SetReadLimit(maxClientMessage)
	if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		slog.Debug("[FEED] failed to set read deadline", "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("[FEED] read error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reply(ErrorFrame{Type: "error", Message: "invalid message"})
			continue
		}

		switch msg.Action {
		case ActionRefresh:
			err = s.vm.Refresh(r.Context())
		case ActionRetry:
			err = s.vm.Retry(r.Context())
		default:
			s.reply(ErrorFrame{Type: "error", Action: msg.Action, Message: "unknown action"})
			continue
		}
		if err != nil {
			slog.Warn("[FEED] action failed", "action", msg.Action, "error", err)
			// Subscribe failures also surface as an error-phase state frame
			if errors.Is(err, feedview.ErrNotMounted) {
				s.reply(ErrorFrame{Type: "error", Action: msg.Action, Message: "feed is not mounted"})
			}
		}
	}
}

func (s *stream) reply(f ErrorFrame) {
	select {
	case s.replies <- f:
	case <-s.done:
	default:
		slog.Debug("[FEED] dropping reply, client not reading", "action", f.Action)
	}
}

func (s *stream) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			deadline := time.Now().Add(writeTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return

		case <-s.dirty:
			if err := s.write(newStateFrame(s.vm.State())); err != nil {
				s.fail("state", err)
				return
			}

		case f := <-s.replies:
			if err := s.write(f); err != nil {
				s.fail("reply", err)
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
				s.fail("ping", err)
				return
			}
		}
	}
}

func (s *stream) write(v interface{}) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// fail stops the stream after a write error; closing conn unblocks the reader
func (s *stream) fail(what string, err error) {
	slog.Debug("[FEED] write failed", "frame", what, "error", err)
	s.shutdown()
	_ = s.conn.Close()
}

func newStateFrame(state feedview.State) StateFrame {
	f := StateFrame{Type: "state", State: state}
	if state.Err != nil {
		// Subscription errors are infrastructure failures; keep the detail in the logs
		f.Error = "feed unavailable"
	}
	return f
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
