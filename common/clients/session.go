package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lyzr/appforge/common/events"
	"github.com/lyzr/appforge/common/models"
)

const (
	// Time allowed to write a frame to the server
	sessionWriteWait = 10 * time.Second

	// The server pings every 25s; a silent connection is dead after this
	sessionReadWait = 60 * time.Second
)

// Session keeps one project's real-time connection alive. After every
// (re)connect it joins the project and resynchronizes the latest file set
// from the API, since events published while offline are not replayed.
type Session struct {
	api       *OrchestratorClient
	projectID string
	logger    Logger
	dialer    *websocket.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration

	events chan events.Event

	mu      sync.RWMutex
	latest  *models.GenerationRecord
	resyncs int
}

// NewSession creates a session for projectID
func NewSession(api *OrchestratorClient, projectID string, logger Logger) *Session {
	return &Session{
		api:        api,
		projectID:  projectID,
		logger:     logger,
		dialer:     websocket.DefaultDialer,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		events:     make(chan events.Event, 64),
	}
}

// WithBackoff sets the reconnect delay bounds
func (s *Session) WithBackoff(min, max time.Duration) *Session {
	s.minBackoff = min
	s.maxBackoff = max
	return s
}

// Events delivers every project event received; closed when Run returns
func (s *Session) Events() <-chan events.Event {
	return s.events
}

// Latest returns the last known generation with files, or nil
func (s *Session) Latest() *models.GenerationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return nil
	}
	return s.latest.Clone()
}

// Resyncs returns how many times the session pulled the latest record
func (s *Session) Resyncs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.resyncs
}

// Run connects and reconnects with exponential backoff until ctx is cancelled
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)

	backoff := s.minBackoff
	for {
		connected, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = s.minBackoff
		}
		s.logger.Warn("session disconnected", "project_id", s.projectID, "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

// connectOnce runs one connection to completion. connected reports whether
// the join succeeded, which resets the backoff.
func (s *Session) connectOnce(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	if s.api.token != "" {
		header.Set("Authorization", "Bearer "+s.api.token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, websocketURL(s.api.baseURL), header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock reads on cancel
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(sessionReadWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(sessionReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(sessionWriteWait))
	})

	conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
	if err := conn.WriteJSON(events.ClientFrame{Type: events.FrameJoin, ProjectID: s.projectID}); err != nil {
		return false, fmt.Errorf("join: %w", err)
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(sessionReadWait))

		switch f.Type {
		case events.FrameJoined:
			connected = true
			s.logger.Info("session joined project", "project_id", s.projectID)
			// Resync after joining so nothing falls between the two
			if err := s.resync(ctx); err != nil {
				return connected, err
			}
		case events.FrameLeft:
		case events.FrameError:
			s.logger.Warn("session error frame", "project_id", f.ProjectID, "error", f.Error)
		default:
			ev := events.Event{Type: events.Type(f.Type), ProjectID: f.ProjectID, Data: f.Data, Timestamp: f.Timestamp}
			s.apply(ev)
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return connected, ctx.Err()
			}
		}
	}
}

// frame is the union of server events and acks
type frame struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"projectId"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error"`
}

// resync replaces the local state with the API's latest record
func (s *Session) resync(ctx context.Context) error {
	rec, err := s.api.GetLatest(ctx, s.projectID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("resync: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resyncs++
	if rec != nil {
		s.latest = rec
	}
	return nil
}

// apply folds a completion into the local state
func (s *Session) apply(ev events.Event) {
	if ev.Type != events.GenerationComplete {
		return
	}

	var payload events.CompletePayload
	if err := ev.Decode(&payload); err != nil {
		s.logger.Warn("invalid completion payload", "error", err)
		return
	}
	id, err := uuid.Parse(payload.GenerationID)
	if err != nil {
		s.logger.Warn("invalid generation id in completion", "error", err)
		return
	}

	completedAt := ev.Timestamp
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &models.GenerationRecord{
		ID:          id,
		ProjectID:   ev.ProjectID,
		Status:      models.GenerationCompleted,
		FileChanges: payload.Files,
		CompletedAt: &completedAt,
	}
}

// websocketURL maps the API root to its /ws endpoint
func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/") + "/ws"
}
