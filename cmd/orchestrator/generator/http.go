package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lyzr/appforge/common/clients"
	"github.com/lyzr/appforge/common/logger"
	"github.com/lyzr/appforge/common/models"
)

// maxLineSize bounds one NDJSON line; a files line carries whole file contents
const maxLineSize = 32 << 20

// streamLine is one NDJSON record from the generator service
type streamLine struct {
	Type    string              `json:"type"`
	Name    string              `json:"name,omitempty"`
	Status  models.PhaseStatus  `json:"status,omitempty"`
	Message string              `json:"message,omitempty"`
	Files   []models.FileChange `json:"files,omitempty"`
}

// HTTPGenerator POSTs the request to a generator service and reads its NDJSON stream
type HTTPGenerator struct {
	url  string
	http *clients.HTTPClient
	log  *logger.Logger
}

// NewHTTPGenerator creates a generator client. The client must not carry a
// request timeout; the generation deadline travels on the context.
func NewHTTPGenerator(url string, client *http.Client, log *logger.Logger) *HTTPGenerator {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPGenerator{
		url:  url,
		http: clients.NewHTTPClient(client, log),
		log:  log,
	}
}

// Generate streams one generation. Multiple files lines are concatenated in order.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request, emit func(Event)) ([]models.FileChange, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode generator request: %w", err)
	}

	resp, err := g.http.DoRequest(clients.WithRequestID(ctx, req.GenerationID.String()), http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, &models.GeneratorFailure{Message: fmt.Sprintf("generator unreachable: %v", err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &models.GeneratorFailure{
			Message: fmt.Sprintf("generator returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)),
		}
	}

	var files []models.FileChange
	sawFiles := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var line streamLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, &models.GeneratorFailure{Message: "generator sent malformed output", Err: err}
		}

		switch line.Type {
		case "phase":
			emit(Event{Kind: EventPhase, Phase: line.Name, Status: line.Status, Message: line.Message})
		case "log":
			emit(Event{Kind: EventLog, Message: line.Message})
		case "files":
			files = append(files, line.Files...)
			sawFiles = true
		case "error":
			msg := line.Message
			if msg == "" {
				msg = "generator reported an error"
			}
			return nil, &models.GeneratorFailure{Message: msg}
		default:
			g.log.Debug("ignoring generator line", "type", line.Type, "generation_id", req.GenerationID)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &models.GeneratorFailure{Message: "generator output line too large", Err: err}
		}
		return nil, &models.GeneratorFailure{Message: fmt.Sprintf("generator stream broken: %v", err), Err: err}
	}

	if !sawFiles {
		return nil, &models.GeneratorFailure{Message: "generator finished without producing files"}
	}
	return files, nil
}
