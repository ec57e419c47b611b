// Package stream implements the Streaming Frontend: a per-subscription
// WebSocket transport that fans an AgenticLoop run into ordered status,
// content, error, and done events, with keepalive pings and reconnect
// support via the orchestrator's last-result retention window.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
)

// EventKind identifies one of the four event kinds a subscription can
// receive.
type EventKind string

const (
	// EventStatus carries human-readable progress (tool lifecycle,
	// thinking start/end).
	EventStatus EventKind = "status"
	// EventContent carries an output chunk (streamed final-answer text).
	EventContent EventKind = "content"
	// EventError is terminal for this subscription.
	EventError EventKind = "error"
	// EventDone marks graceful end of the Run.
	EventDone EventKind = "done"
)

// Frame is the wire format for every message the server sends to a
// subscriber.
type Frame struct {
	Kind      EventKind `json:"kind"`
	RunID     string    `json:"run_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Exhausted bool      `json:"exhausted,omitempty"`
}

// Request is the wire format for a subscriber's opening request, and for
// any mid-stream control message (currently only "cancel").
type Request struct {
	// Type selects the request kind: "run", "last_result", or "cancel".
	Type string `json:"type"`

	// SessionID identifies the conversation. For "run" with an empty
	// SessionID a fresh session is created.
	SessionID string `json:"session_id,omitempty"`

	// Message is the task text for a "run" request.
	Message string `json:"message,omitempty"`

	// MaxAgeSeconds bounds how stale a "last_result" reply may be. Zero
	// means unbounded.
	MaxAgeSeconds int `json:"max_age_seconds,omitempty"`

	// RunID identifies the run a "cancel" request targets.
	RunID string `json:"run_id,omitempty"`
}

const (
	maxFramePayloadBytes = 1 << 20
	writeWait            = 10 * time.Second
	pongWait             = 45 * time.Second
)

// Handler upgrades HTTP connections to the streaming WebSocket protocol
// and drives agent Runs on behalf of each subscriber.
type Handler struct {
	loop     *agent.AgenticLoop
	sessions sessions.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// PingInterval is the keepalive cadence used when a subscription is
	// quiet. The spec requires at least 1s; anything below that floor is
	// raised to it.
	PingInterval time.Duration
}

// NewHandler builds a Handler for the given orchestrator and session
// store. logger may be nil, in which case slog.Default() is used.
func NewHandler(loop *agent.AgenticLoop, store sessions.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		loop:     loop,
		sessions: store,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		PingInterval: 10 * time.Second,
	}
}

// ServeHTTP upgrades the connection and serves exactly one subscription:
// reads the opening Request, then either streams a Run or replies with a
// retained last result.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close() //nolint:errcheck

	conn.SetReadLimit(maxFramePayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var req Request
	if err := conn.ReadJSON(&req); err != nil {
		h.writeFrame(conn, Frame{Kind: EventError, Error: "invalid request: " + err.Error()})
		return
	}

	switch req.Type {
	case "last_result":
		h.serveLastResult(conn, req)
	case "run":
		// The Run is handed context.Background(), not a context derived
		// from the request: a Run must outlive this connection (subscriber
		// disconnect is not cancellation, per spec) and is stoppable only
		// through an explicit "cancel" frame routed to loop.Cancel.
		h.serveRun(context.Background(), conn, req)
	default:
		h.writeFrame(conn, Frame{Kind: EventError, Error: fmt.Sprintf("unknown request type %q", req.Type)})
	}
}

func (h *Handler) serveLastResult(conn *websocket.Conn, req Request) {
	if req.SessionID == "" {
		h.writeFrame(conn, Frame{Kind: EventError, Error: "session_id is required"})
		return
	}
	maxAge := time.Duration(req.MaxAgeSeconds) * time.Second
	res, ok := h.loop.LastResult(req.SessionID, maxAge)
	if !ok {
		h.writeFrame(conn, Frame{Kind: EventError, Error: "no retained result within the requested window"})
		return
	}
	if res.Exhausted {
		h.writeFrame(conn, Frame{Kind: EventDone, RunID: res.RunID, Exhausted: true})
		return
	}
	h.writeFrame(conn, Frame{Kind: EventContent, RunID: res.RunID, Text: res.Answer})
	h.writeFrame(conn, Frame{Kind: EventDone, RunID: res.RunID})
}

func (h *Handler) serveRun(ctx context.Context, conn *websocket.Conn, req Request) {
	session, err := h.resolveSession(ctx, req.SessionID)
	if err != nil {
		h.writeFrame(conn, Frame{Kind: EventError, Error: "resolve session: " + err.Error()})
		return
	}
	if req.Message == "" {
		h.writeFrame(conn, Frame{Kind: EventError, Error: "message is required"})
		return
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   models.ChannelAPI,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   req.Message,
		CreatedAt: time.Now(),
	}

	chunks, err := h.loop.Run(ctx, session, msg)
	if err != nil {
		h.writeFrame(conn, Frame{Kind: EventError, Error: "start run: " + err.Error()})
		return
	}

	// A subscriber may send a "cancel" frame at any point; read it on its
	// own goroutine so the write side keeps draining chunks uninterrupted.
	go h.watchForCancel(conn)

	ticker := time.NewTicker(h.effectivePingInterval())
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			failed := false
			for _, frame := range translateChunk(chunk) {
				if !h.writeFrame(conn, frame) {
					failed = true
					break
				}
			}
			if failed {
				// The subscriber is gone, but the Run is not cancelled by
				// that: drain the rest of its chunks in the background so
				// the orchestrator's goroutine is never blocked sending on
				// a channel nobody reads from.
				go drainChunks(chunks)
				return
			}
			ticker.Reset(h.effectivePingInterval())
			if chunk.Done {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go drainChunks(chunks)
				return
			}
		}
	}
}

// drainChunks consumes a Run's remaining output after its subscriber is
// gone, so the orchestrator's goroutine never blocks on a send nobody will
// read. The Run keeps running to completion and populates its last-result
// slot normally; only this connection stops receiving it.
func drainChunks(chunks <-chan *agent.ResponseChunk) {
	for range chunks {
	}
}

// watchForCancel blocks on incoming frames and forwards "cancel" requests
// to the orchestrator. It returns once the connection errors or closes,
// which happens once ServeHTTP's deferred conn.Close runs after serveRun
// returns.
func (h *Handler) watchForCancel(conn *websocket.Conn) {
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Type == "cancel" && req.RunID != "" {
			h.loop.Cancel(req.RunID)
		}
	}
}

func (h *Handler) resolveSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID != "" {
		if session, err := h.sessions.Get(ctx, sessionID); err == nil {
			return session, nil
		}
	}
	key := sessionID
	if key == "" {
		key = uuid.NewString()
	}
	return h.sessions.GetOrCreate(ctx, key, "main", models.ChannelAPI, key)
}

func (h *Handler) effectivePingInterval() time.Duration {
	if h.PingInterval < time.Second {
		return time.Second
	}
	return h.PingInterval
}

func (h *Handler) writeFrame(conn *websocket.Conn, frame Frame) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Warn("stream: write failed", "error", err)
		return false
	}
	return true
}

// translateChunk maps one agent.ResponseChunk onto zero or more wire
// Frames. A chunk can carry both a content update and the terminal Done
// flag (the orchestrator's last final-answer chunk does), in which case
// both frames are emitted in order.
func translateChunk(chunk *agent.ResponseChunk) []Frame {
	var frames []Frame

	if chunk.Error != nil {
		frames = append(frames, Frame{
			Kind:  EventError,
			RunID: chunk.RunID,
			Error: describeError(chunk.Error),
		})
	}
	if chunk.Text != "" {
		frames = append(frames, Frame{Kind: EventContent, RunID: chunk.RunID, Text: chunk.Text})
	}
	if chunk.ToolEvent != nil {
		frames = append(frames, Frame{
			Kind:    EventStatus,
			RunID:   chunk.RunID,
			Message: fmt.Sprintf("%s: %s", chunk.ToolEvent.ToolName, chunk.ToolEvent.Stage),
		})
	}
	if chunk.Event != nil {
		frames = append(frames, Frame{Kind: EventStatus, RunID: chunk.RunID, Message: chunk.Event.Message})
	}
	if chunk.Done {
		frames = append(frames, Frame{Kind: EventDone, RunID: chunk.RunID, Exhausted: chunk.Exhausted})
	}
	return frames
}

func describeError(err error) string {
	var loopErr *agent.LoopError
	if errors.As(err, &loopErr) {
		return loopErr.Error()
	}
	return err.Error()
}
