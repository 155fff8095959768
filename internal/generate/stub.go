package generate

import (
	"context"
	"sync"
)

// StubClient returns scripted responses in order and records every request.
// Once the script is exhausted it repeats the last entry. Used by tests and
// by the offline mode of the daemon.
type StubClient struct {
	mu        sync.Mutex
	Responses []string
	Errs      []error
	Requests  []Request
	calls     int
}

// NewStubClient scripts a stub with the given responses.
func NewStubClient(responses ...string) *StubClient {
	return &StubClient{Responses: responses}
}

func (s *StubClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	i := s.calls
	s.calls++
	if i < len(s.Errs) && s.Errs[i] != nil {
		return "", s.Errs[i]
	}
	if len(s.Responses) == 0 {
		return "", nil
	}
	if i >= len(s.Responses) {
		i = len(s.Responses) - 1
	}
	return s.Responses[i], nil
}

// Calls reports how many times Complete was invoked.
func (s *StubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
