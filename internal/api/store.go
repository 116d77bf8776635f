package api

import (
	"sync"

	"github.com/google/uuid"
)

// RunStore keeps completed run records for later retrieval. Records are
// held in memory only; restarting the server forgets them.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*RunResponse
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*RunResponse),
	}
}

func (s *RunStore) Put(resp *RunResponse) {
	s.mu.Lock()
	s.runs[resp.ID] = resp
	s.mu.Unlock()
}

func (s *RunStore) Get(id string) (*RunResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	return rec, ok
}

func (s *RunStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false
	}
	delete(s.runs, id)
	return true
}

// List returns the stored records in unspecified order.
func (s *RunStore) List() []*RunResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RunResponse, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, rec)
	}
	return out
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
