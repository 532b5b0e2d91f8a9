package ledger

import (
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/raidolabs/raido/models"
)

// MemoryStore keeps the event log in memory. It is the default store when no
// durable path is configured.
type MemoryStore struct {
	mutex  sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(e Event) (uint64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e.Seq = uint64(len(s.events)) + 1
	s.events = append(s.events, e)
	return e.Seq, nil
}

func (s *MemoryStore) Range(from, to uint64) ([]Event, error) {
	if from > to {
		return nil, errors.New("range lower bound is above its upper bound").
			WithType(models.ErrTypeInvalidRecord).
			WithTag("from", from).
			WithTag("to", to)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if from < 1 {
		from = 1
	}
	if head := uint64(len(s.events)); to > head {
		to = head
	}
	if from > to {
		return nil, nil
	}

	events := make([]Event, to-from+1)
	copy(events, s.events[from-1:to])
	return events, nil
}

func (s *MemoryStore) Head() (uint64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return uint64(len(s.events)), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
