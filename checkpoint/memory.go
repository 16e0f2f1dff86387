package checkpoint

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. It also records the
// history of every save, which makes it useful for inspecting a run.
type MemoryStore struct {
	mu      sync.RWMutex
	latest  map[string]*Checkpoint
	history []*Checkpoint
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]*Checkpoint)}
}

// Save stores a copy of cp.
func (s *MemoryStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := prepare(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[Key(doc.AgentName, doc.Task)] = doc
	s.history = append(s.history, doc)

	return nil
}

// Load returns a copy of the latest checkpoint of the agent/task pair.
func (s *MemoryStore) Load(ctx context.Context, agentName, task string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.latest[Key(agentName, task)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, Key(agentName, task))
	}

	return prepare(cp)
}

// History returns copies of every saved checkpoint in save order.
func (s *MemoryStore) History() []*Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Checkpoint, 0, len(s.history))
	for _, cp := range s.history {
		c, _ := prepare(cp)
		out = append(out, c)
	}

	return out
}
