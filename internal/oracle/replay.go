package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrReplayExhausted is returned once every scripted response has been served.
var ErrReplayExhausted = errors.New("replay responses exhausted")

// Replay serves canned responses in order. It backs offline runs and tests.
type Replay struct {
	mu        sync.Mutex
	responses []string
	errs      map[int]error
	next      int
	requests  []Request
}

// NewReplay creates a replay client from literal responses.
func NewReplay(responses ...string) *Replay {
	return &Replay{responses: responses, errs: make(map[int]error)}
}

// LoadReplay reads a JSON array of response strings.
func LoadReplay(path string) (*Replay, error) {
	if path == "" {
		return nil, errors.New("replay provider requires oracle.replay_file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	var responses []string
	if err := json.Unmarshal(data, &responses); err != nil {
		return nil, fmt.Errorf("parse replay file %s: %w", path, err)
	}
	return NewReplay(responses...), nil
}

// FailAt makes the i-th call (zero based) return err instead of a response.
func (r *Replay) FailAt(i int, err error) *Replay {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[i] = err
	return r
}

func (r *Replay) Complete(ctx context.Context, req Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := len(r.requests)
	r.requests = append(r.requests, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := r.errs[i]; ok {
		return "", err
	}
	if r.next >= len(r.responses) {
		return "", ErrReplayExhausted
	}
	out := r.responses[r.next]
	r.next++
	return out, nil
}

// Requests returns every request received so far.
func (r *Replay) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}
