// Package lifecycle enforces phase transitions for a generation record.
//
// Phases are reported by an external generator that may retry or re-emit, so
// Advance upserts by name: the first report of a phase fixes its position, later
// reports update it in place. A phase status only moves forward:
//
//	pending -> running -> completed | failed
//
// Once a phase is completed or failed it is frozen; re-reporting the same
// terminal status is accepted as a message refresh.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/lyzr/appforge/common/models"
)

// rank orders phase statuses; terminal statuses share the top rank
func rank(s models.PhaseStatus) int {
	switch s {
	case models.PhasePending:
		return 0
	case models.PhaseRunning:
		return 1
	default:
		return 2
	}
}

// CheckTransition reports whether a phase may move from one status to another
func CheckTransition(from, to models.PhaseStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, to)
	}
	if from.IsTerminal() {
		if from == to {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	if rank(to) < rank(from) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return nil
}

// Advance applies one phase report to rec in place.
// A new name is appended (status defaults to running); an existing name is
// updated if the transition is legal. Empty messages keep the previous one.
// The returned index points at the touched phase.
func Advance(rec *models.GenerationRecord, name string, status models.PhaseStatus, message string) (int, error) {
	if rec.IsTerminal() {
		return -1, models.ErrRecordFinalized
	}
	if name == "" {
		return -1, fmt.Errorf("%w: phase name is required", models.ErrInvalidTransition)
	}
	if status == "" {
		status = models.PhaseRunning
	}

	now := time.Now().UTC()

	for i := range rec.Phases {
		p := &rec.Phases[i]
		if p.Name != name {
			continue
		}
		if err := CheckTransition(p.Status, status); err != nil {
			return i, fmt.Errorf("phase %q: %w", name, err)
		}
		p.Status = status
		if message != "" {
			p.Message = message
		}
		p.UpdatedAt = now
		return i, nil
	}

	if !status.Valid() {
		return -1, fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, status)
	}

	rec.Phases = append(rec.Phases, models.PhaseRecord{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: now,
	})
	return len(rec.Phases) - 1, nil
}

// IsTerminal reports whether the record's overall status is completed or failed
func IsTerminal(rec *models.GenerationRecord) bool {
	return rec.IsTerminal()
}

// CurrentPhase returns the most recently reported phase that is still running,
// falling back to the last phase. Nil when nothing was reported yet.
func CurrentPhase(rec *models.GenerationRecord) *models.PhaseRecord {
	if len(rec.Phases) == 0 {
		return nil
	}
	for i := len(rec.Phases) - 1; i >= 0; i-- {
		if rec.Phases[i].Status == models.PhaseRunning {
			p := rec.Phases[i]
			return &p
		}
	}
	p := rec.Phases[len(rec.Phases)-1]
	return &p
}
