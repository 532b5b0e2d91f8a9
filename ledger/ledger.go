package ledger

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raidolabs/raido/models"
)

// The size of a subscriber channel. A subscriber that falls this far behind
// loses live events and must re-read them by range.
const subscriberBuffer = 64

// Kind discriminates notification events.
type Kind string

const (
	KindAdded   Kind = "added"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

// Event is one entry of the notification ledger. Seq starts at 1 and
// increases monotonically.
type Event struct {
	Seq      uint64          `json:"seq"`
	Kind     Kind            `json:"kind"`
	VolumeID models.VolumeID `json:"volume_id"`
	Cell     models.Cell     `json:"cell"`
	Actor    common.Address  `json:"actor"`
	Time     time.Time       `json:"time"`
}

// Store is an append-only event store, replayable by sequence range.
type Store interface {
	// Append persists the event and returns its sequence number.
	Append(Event) (uint64, error)

	// Range returns the events with from ≤ seq ≤ to, in sequence order.
	// Sequence numbers without a stored event are skipped, never an error.
	Range(from, to uint64) ([]Event, error)

	// Head returns the highest sequence number, 0 when empty.
	Head() (uint64, error)

	Close() error
}

// Log wraps a store and fans appended events out to subscribers.
type Log struct {
	store Store

	mutex  sync.RWMutex
	subIDs models.SequentialIDGenerator
	subs   map[uint32]chan Event
}

func NewLog(store Store) *Log {
	return &Log{
		store: store,
		subs:  make(map[uint32]chan Event),
	}
}

// Append stores the event, stamps its sequence number and time, and notifies
// subscribers. A subscriber with a full channel is skipped.
func (l *Log) Append(e Event) (Event, error) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	seq, err := l.store.Append(e)
	if err != nil {
		return Event{}, err
	}
	e.Seq = seq

	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, sub := range l.subs {
		select {
		case sub <- e:
		default:
		}
	}
	return e, nil
}

func (l *Log) Range(from, to uint64) ([]Event, error) {
	return l.store.Range(from, to)
}

func (l *Log) Head() (uint64, error) {
	return l.store.Head()
}

// Subscribe registers a live event channel. The returned id releases it via
// Unsubscribe.
func (l *Log) Subscribe() (uint32, <-chan Event) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	id := l.subIDs.New()
	ch := make(chan Event, subscriberBuffer)
	l.subs[id] = ch
	return id, ch
}

func (l *Log) Unsubscribe(id uint32) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	sub, ok := l.subs[id]
	if !ok {
		return
	}

	delete(l.subs, id)
	close(sub)
	l.subIDs.Reuse(id)
}

func (l *Log) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	for id, sub := range l.subs {
		delete(l.subs, id)
		close(sub)
	}
	return l.store.Close()
}
