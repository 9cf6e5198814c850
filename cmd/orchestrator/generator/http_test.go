package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ndjsonServer(t *testing.T, check func(r *http.Request), lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			fmt.Fprintln(w, l)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect() (*[]Event, func(Event)) {
	var events []Event
	return &events, func(e Event) { events = append(events, e) }
}

func TestHTTPGenerator_StreamsPhasesLogsAndFiles(t *testing.T) {
	req := Request{GenerationID: uuid.New(), ProjectID: "p1", Prompt: "build a todo app"}

	srv := ndjsonServer(t, func(r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, req.GenerationID.String(), r.Header.Get("X-Request-ID"))
		var got Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "build a todo app", got.Prompt)
	},
		`{"type":"phase","name":"analyzing","status":"running"}`,
		`{"type":"log","message":"reading prompt"}`,
		``,
		`{"type":"phase","name":"analyzing","status":"completed"}`,
		`{"type":"files","files":[{"path":"app.tsx","content":"a"}]}`,
		`{"type":"files","files":[{"path":"style.css","content":"b"}]}`,
		`{"type":"unknown"}`,
	)

	gen := NewHTTPGenerator(srv.URL, nil, logger.Nop())
	events, emit := collect()

	files, err := gen.Generate(context.Background(), req, emit)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "app.tsx", files[0].Path)
	assert.Equal(t, "style.css", files[1].Path)

	require.Len(t, *events, 3)
	assert.Equal(t, Event{Kind: EventPhase, Phase: "analyzing", Status: models.PhaseRunning}, (*events)[0])
	assert.Equal(t, Event{Kind: EventLog, Message: "reading prompt"}, (*events)[1])
	assert.Equal(t, models.PhaseCompleted, (*events)[2].Status)
}

func TestHTTPGenerator_ErrorLine(t *testing.T) {
	srv := ndjsonServer(t, nil,
		`{"type":"phase","name":"generating","status":"running"}`,
		`{"type":"error","message":"model quota exceeded"}`,
	)

	_, emit := collect()
	_, err := NewHTTPGenerator(srv.URL, nil, logger.Nop()).Generate(context.Background(), Request{GenerationID: uuid.New()}, emit)

	var failure *models.GeneratorFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "model quota exceeded", failure.Message)
}

func TestHTTPGenerator_NoFiles(t *testing.T) {
	srv := ndjsonServer(t, nil, `{"type":"log","message":"hi"}`)

	_, emit := collect()
	_, err := NewHTTPGenerator(srv.URL, nil, logger.Nop()).Generate(context.Background(), Request{GenerationID: uuid.New()}, emit)
	assert.ErrorContains(t, err, "without producing files")
}

func TestHTTPGenerator_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, emit := collect()
	_, err := NewHTTPGenerator(srv.URL, nil, logger.Nop()).Generate(context.Background(), Request{GenerationID: uuid.New()}, emit)

	var failure *models.GeneratorFailure
	require.True(t, errors.As(err, &failure))
	assert.Contains(t, failure.Message, "503")
	assert.Contains(t, failure.Message, "overloaded")
}

func TestHTTPGenerator_MalformedLine(t *testing.T) {
	srv := ndjsonServer(t, nil, `not json`)

	_, emit := collect()
	_, err := NewHTTPGenerator(srv.URL, nil, logger.Nop()).Generate(context.Background(), Request{GenerationID: uuid.New()}, emit)
	assert.ErrorContains(t, err, "malformed")
}

func TestHTTPGenerator_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"phase","name":"analyzing","status":"running"}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, emit := collect()
	_, err := NewHTTPGenerator(srv.URL, nil, logger.Nop()).Generate(ctx, Request{GenerationID: uuid.New()}, emit)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
