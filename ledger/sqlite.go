package ledger

import (
	"database/sql"
	_ "embed"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	"github.com/raidolabs/raido/models"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a durable event store. SQLite runs in WAL mode with a
// single writer connection; reads stay concurrent with the write path.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore creates or opens the event database at the given path and
// applies the schema. Safe to call on an existing database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.New("opening event database failed").
			WithTag("path", path).
			Wrap(err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.New("connecting to event database failed").
			WithTag("path", path).
			Wrap(err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.New("applying pragma failed").
				WithTag("pragma", pragma).
				Wrap(err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.New("applying event schema failed").Wrap(err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(e Event) (uint64, error) {
	res, err := s.db.Exec(
		"INSERT INTO events (kind, volume_id, cell, actor, at) VALUES (?, ?, ?, ?, ?)",
		string(e.Kind),
		e.VolumeID.Hex(),
		e.Cell.Hex(),
		e.Actor.Hex(),
		e.Time.UnixMilli(),
	)
	if err != nil {
		return 0, errors.New("appending event failed").Wrap(err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, errors.New("reading event sequence failed").Wrap(err)
	}
	return uint64(seq), nil
}

func (s *SQLiteStore) Range(from, to uint64) ([]Event, error) {
	if from > to {
		return nil, errors.New("range lower bound is above its upper bound").
			WithType(models.ErrTypeInvalidRecord).
			WithTag("from", from).
			WithTag("to", to)
	}

	rows, err := s.db.Query(
		"SELECT seq, kind, volume_id, cell, actor, at FROM events WHERE seq BETWEEN ? AND ? ORDER BY seq",
		from,
		to,
	)
	if err != nil {
		return nil, errors.New("reading event range failed").Wrap(err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			kind     string
			volumeID string
			cell     string
			actor    string
			at       int64
		)
		if err := rows.Scan(&e.Seq, &kind, &volumeID, &cell, &actor, &at); err != nil {
			return nil, errors.New("scanning event failed").Wrap(err)
		}

		parsedCell, err := models.ParseCell(cell)
		if err != nil {
			return nil, errors.New("stored cell is malformed").
				WithTag("seq", e.Seq).
				Wrap(err)
		}

		e.Kind = Kind(kind)
		e.VolumeID = common.HexToHash(volumeID)
		e.Cell = parsedCell
		e.Actor = common.HexToAddress(actor)
		e.Time = time.UnixMilli(at).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New("reading event range failed").Wrap(err)
	}
	return events, nil
}

func (s *SQLiteStore) Head() (uint64, error) {
	var head uint64
	if err := s.db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM events").Scan(&head); err != nil {
		return 0, errors.New("reading ledger head failed").Wrap(err)
	}
	return head, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
