package websocket

import (
	"context"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/raidolabs/raido/ledger"
	"golang.org/x/net/websocket"
)

// EventStreamer streams notification events to WebSocket clients. A client
// may pass ?from=SEQ to replay stored events before following the live feed.
type EventStreamer struct {
	Ledger *ledger.Log
}

// Handle serves one client connection until the client disconnects or the
// context is canceled.
func (s *EventStreamer) Handle(ctx context.Context, conn *websocket.Conn) {
	instrumentStreamClientConnect()
	defer instrumentStreamClientDisconnect()

	var from uint64 = 1
	if v := conn.Request().URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			logs.Warn(errors.New("stream replay position is malformed").
				WithTag("from", v).
				Wrap(err))
			return
		}
		from = parsed
	}

	// Subscribing before the replay guarantees no event between replay head
	// and the live feed is lost. Duplicates are dropped by sequence number.
	subID, events := s.Ledger.Subscribe()
	defer s.Ledger.Unsubscribe(subID)

	var lastSeq uint64
	if head, err := s.Ledger.Head(); err == nil && head >= from {
		replay, err := s.Ledger.Range(from, head)
		if err != nil {
			logs.Warn(errors.New("replaying events failed").Wrap(err))
			return
		}
		for _, e := range replay {
			if err := websocket.JSON.Send(conn, e); err != nil {
				return
			}
			lastSeq = e.Seq
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Seq <= lastSeq || e.Seq < from {
				continue
			}
			if err := websocket.JSON.Send(conn, e); err != nil {
				return
			}
			lastSeq = e.Seq
			instrumentStreamedEvent()
		}
	}
}
