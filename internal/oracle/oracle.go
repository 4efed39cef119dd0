// Package oracle talks to the suggestion model that proposes file selections and file contents.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrMalformed marks a response that could not be parsed into the expected structure.
var ErrMalformed = errors.New("malformed oracle response")

// Request is one chat round-trip.
type Request struct {
	System string
	User   string
}

// Client completes a request with raw model text.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderReplay = "replay"
)

// Settings selects and configures a backend.
type Settings struct {
	Provider       string
	Model          string
	BaseURL        string
	APIKey         string
	Temperature    float64
	RequestTimeout time.Duration
	RatePerSec     float64
	ReplayFile     string
}

// New builds the configured backend wrapped with a timeout and rate limit.
func New(s Settings, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		backend Client
		err     error
	)
	switch s.Provider {
	case ProviderOpenAI:
		backend = NewOpenAI(s)
	case ProviderOllama:
		backend, err = NewOllama(s)
	case ProviderReplay:
		backend, err = LoadReplay(s.ReplayFile)
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", s.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewGuard(backend, s.RequestTimeout, s.RatePerSec, logger), nil
}
