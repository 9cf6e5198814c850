package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrConcurrentGeneration is returned when a project already has a non-terminal generation
	ErrConcurrentGeneration = errors.New("a generation is already running for this project")

	// ErrInvalidTransition is returned when a phase would move out of a terminal status or backwards
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrAlreadyStarted is returned when starting a generation that is no longer queued
	ErrAlreadyStarted = errors.New("generation already started")

	// ErrRecordFinalized is returned when mutating a completed or failed generation
	ErrRecordFinalized = errors.New("generation already finalized")

	// ErrNoFiles is returned when a completion or deploy has no file changes to work with
	ErrNoFiles = errors.New("generation has no file changes")

	// ErrNotConfigured is returned when a deploy provider has no credentials
	ErrNotConfigured = errors.New("deploy provider is not configured")

	// ErrUnknownProvider is returned for provider names missing from the registry
	ErrUnknownProvider = errors.New("unknown deploy provider")

	// ErrGenerationTimeout marks a generation force-failed by its duration budget
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrDeploymentTimeout marks a deployment that never reached a terminal provider state
	ErrDeploymentTimeout = errors.New("deployment timed out")
)

// GeneratorFailure is an error raised or reported by the external generator
type GeneratorFailure struct {
	Message string
	Err     error
}

func (e *GeneratorFailure) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *GeneratorFailure) Unwrap() error {
	return e.Err
}

// ProviderFailure is an error from a deploy provider's submit or poll call
type ProviderFailure struct {
	Provider string
	Err      error
}

func (e *ProviderFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderFailure) Unwrap() error {
	return e.Err
}
