// Package store persists chat messages in an embedded BadgerDB log and serves
// the recent-history queries used by the relay and the REST endpoint.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ErrUnavailable reports that the underlying database could not serve the
// request. Callers decide whether to skip persistence or fail the operation.
var ErrUnavailable = errors.New("message store unavailable")

// Kind discriminates the two persisted record shapes.
type Kind string

const (
	// KindPublic records are room messages, retrievable through history queries.
	KindPublic Kind = "public"
	// KindPrivate records are direct messages. They are kept out of the room
	// key space so a history scan never returns them.
	KindPrivate Kind = "private"
)

// Record is a single appended message. Payload is the exact frame delivered to
// clients, so history replies can re-emit it untouched.
type Record struct {
	ID       uuid.UUID
	Kind     Kind
	RoomID   string
	StoredAt time.Time
	Payload  []byte
}

// Store is an append-only message log on top of BadgerDB.
//
// Public records are keyed "msg:{room}:{19-digit zero-padded unix-nanos}:{uuid}"
// so a reverse prefix scan yields newest-first and the uuid breaks ties between
// records stored in the same nanosecond. The room segment is query-escaped so
// caller-supplied ids containing ":" cannot collide with another room's
// prefix. Private records live under "pm:" and never match a room prefix.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

func New(db *badger.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Insert appends one record. It fails with ErrUnavailable when the database
// cannot accept the write; single-record atomicity is the only guarantee.
func (s *Store) Insert(rec Record) error {
	key, err := rec.key()
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, rec.Payload)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// QueryRecent returns the payloads of the limit most recently inserted public
// records for roomID, oldest first. A room with no messages yields an empty,
// non-nil slice.
func (s *Store) QueryRecent(roomID string, limit int) ([]json.RawMessage, error) {
	prefix := []byte(fmt.Sprintf("msg:%s:", url.QueryEscape(roomID)))
	newestFirst := make([]json.RawMessage, 0, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Reverse iteration has to start past the newest possible key of the
		// room, so seek to the prefix followed by the maximum padded timestamp.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(newestFirst) == limit {
				break
			}
			err := it.Item().Value(func(value []byte) error {
				newestFirst = append(newestFirst, append(json.RawMessage{}, value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.Debug("history query", "room", roomID, "returned", len(newestFirst))
	return lo.Reverse(newestFirst), nil
}

func (r Record) key() ([]byte, error) {
	switch r.Kind {
	case KindPublic:
		if r.RoomID == "" {
			return nil, errors.New("public record requires a room id")
		}
		return fmt.Appendf(nil, "msg:%s:%019d:%s", url.QueryEscape(r.RoomID), r.StoredAt.UnixNano(), r.ID), nil
	case KindPrivate:
		return fmt.Appendf(nil, "pm:%019d:%s", r.StoredAt.UnixNano(), r.ID), nil
	default:
		return nil, fmt.Errorf("unknown record kind %q", r.Kind)
	}
}
