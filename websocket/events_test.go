package websocket

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/raidolabs/raido/ledger"
	"github.com/raidolabs/raido/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newStreamServer(t *testing.T) (*ledger.Log, *httptest.Server) {
	t.Helper()

	log := ledger.NewLog(ledger.NewMemoryStore())
	t.Cleanup(func() { log.Close() })

	streamer := EventStreamer{Ledger: log}
	srv := httptest.NewServer(websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()
			streamer.Handle(context.Background(), conn)
		},
	})
	t.Cleanup(srv.Close)

	return log, srv
}

func dialStream(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := strings.Replace(srv.URL, "http://", "ws://", 1) + query
	conn, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func receiveEvent(t *testing.T, conn *websocket.Conn) ledger.Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second*5)))

	var e ledger.Event
	require.NoError(t, websocket.JSON.Receive(conn, &e))
	return e
}

func appendEvents(t *testing.T, log *ledger.Log, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		_, err := log.Append(ledger.Event{
			Kind:     ledger.KindAdded,
			VolumeID: common.HexToHash(fmt.Sprintf("0x%02x", i+1)),
			Cell:     models.CellFromGrid(0, 4, 4),
			Actor:    common.HexToAddress("0xbb"),
		})
		require.NoError(t, err)
	}
}

func TestEventStreamerLive(t *testing.T) {
	log, srv := newStreamServer(t)
	conn := dialStream(t, srv, "")

	appendEvents(t, log, 2)

	e := receiveEvent(t, conn)
	require.Equal(t, uint64(1), e.Seq)
	require.Equal(t, ledger.KindAdded, e.Kind)

	e = receiveEvent(t, conn)
	require.Equal(t, uint64(2), e.Seq)
}

func TestEventStreamerReplay(t *testing.T) {
	log, srv := newStreamServer(t)
	appendEvents(t, log, 3)

	t.Run("replays from the start by default", func(t *testing.T) {
		conn := dialStream(t, srv, "")

		for seq := uint64(1); seq <= 3; seq++ {
			require.Equal(t, seq, receiveEvent(t, conn).Seq)
		}
	})

	t.Run("replays from the requested position", func(t *testing.T) {
		conn := dialStream(t, srv, "?from=2")

		require.Equal(t, uint64(2), receiveEvent(t, conn).Seq)
		require.Equal(t, uint64(3), receiveEvent(t, conn).Seq)
	})

	t.Run("follows the live feed after replay without duplicates", func(t *testing.T) {
		conn := dialStream(t, srv, "")

		require.Equal(t, uint64(1), receiveEvent(t, conn).Seq)

		appendEvents(t, log, 1)

		for seq := uint64(2); seq <= 4; seq++ {
			require.Equal(t, seq, receiveEvent(t, conn).Seq)
		}
	})
}

func TestEventStreamerBadReplayPosition(t *testing.T) {
	_, srv := newStreamServer(t)
	conn := dialStream(t, srv, "?from=nope")

	// The server drops the connection without sending anything.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second*5)))
	var e ledger.Event
	require.Error(t, websocket.JSON.Receive(conn, &e))
}
