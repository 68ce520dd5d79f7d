// Package badger implements core.SessionStore on BadgerDB.
//
// Key layout:
//
//	s/<sid>            session record (state, timestamps, next sequence)
//	e/<sid>/<seq>      event payload, seq zero-padded so keys sort in append order
//	id/<sid>/<eventID> sequence of a stored event, used for duplicate detection
//
// Each Append runs in one read-write transaction.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/logging"
)

const (
	seqWidth      = 20
	conflictRetry = 5
)

// Options configures a Store.
type Options struct {
	// Dir holds the data files. Required unless InMemory is set.
	Dir string
	// InMemory runs Badger without disk persistence.
	InMemory bool
	Logger   logging.Logger
}

// Store is a core.SessionStore backed by BadgerDB.
type Store struct {
	db     *badger.DB
	logger logging.Logger
}

var _ core.SessionStore = (*Store)(nil)

type sessionRecord struct {
	State   map[string]any `json:"state"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
	NextSeq uint64         `json:"next_seq"`
}

// New opens a Badger database.
func New(optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger: Options.Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{opts.Logger})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	return &Store{db: db, logger: opts.Logger}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }

func sessionKey(sid string) []byte { return []byte("s/" + sid) }

func eventPrefix(sid string) []byte { return []byte("e/" + sid + "/") }

func eventKey(sid string, seq uint64) []byte {
	return fmt.Appendf(eventPrefix(sid), "%0*d", seqWidth, seq)
}

func idKey(sid, eventID string) []byte { return []byte("id/" + sid + "/" + eventID) }

// Create inserts the session unless it exists and returns its current form.
func (s *Store) Create(ctx context.Context, id string) (*core.Session, error) {
	err := s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(sessionKey(id))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		now := time.Now().UTC()
		return putRecord(txn, id, &sessionRecord{State: map[string]any{}, Created: now, Updated: now})
	})
	if err != nil {
		return nil, fmt.Errorf("badger: create session: %w", err)
	}
	return s.Get(ctx, id)
}

// Get loads a session with its full history.
func (s *Store) Get(ctx context.Context, id string) (*core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sess *core.Session
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		events, err := readEvents(txn, id)
		if err != nil {
			return err
		}
		sess = core.NewSession(id)
		if rec.State != nil {
			sess.State = rec.State
		}
		sess.Created, sess.Updated = rec.Created, rec.Updated
		sess.Events = events
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Append stores ev at the end of the session history.
func (s *Store) Append(ctx context.Context, sessionID string, ev core.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("badger: encode event: %w", err)
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, sessionID)
		if err != nil {
			return err
		}
		if _, err := txn.Get(idKey(sessionID, ev.ID)); err == nil {
			return core.ErrDuplicateEvent
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		seq := rec.NextSeq
		if err := txn.Set(eventKey(sessionID, seq), payload); err != nil {
			return err
		}
		if err := txn.Set(idKey(sessionID, ev.ID), []byte(strconv.FormatUint(seq, 10))); err != nil {
			return err
		}
		rec.NextSeq++
		rec.Updated = time.Now().UTC()
		return putRecord(txn, sessionID, rec)
	})
	if err != nil {
		return err
	}
	s.logger.Debug("session.badger.append", "session", sessionID, "event", ev.ID)
	return nil
}

// History returns the stored events in append order.
func (s *Store) History(ctx context.Context, sessionID string) ([]core.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []core.Event
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getRecord(txn, sessionID); err != nil {
			return err
		}
		var err error
		events, err = readEvents(txn, sessionID)
		return err
	})
	return events, err
}

// ApplyDelta merges delta into the stored session state.
func (s *Store) ApplyDelta(ctx context.Context, sessionID string, delta map[string]any) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, sessionID)
		if err != nil {
			return err
		}
		if rec.State == nil {
			rec.State = make(map[string]any, len(delta))
		}
		for k, v := range delta {
			rec.State[k] = v
		}
		rec.Updated = time.Now().UTC()
		return putRecord(txn, sessionID, rec)
	})
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < conflictRetry; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("session.badger.conflict", "attempt", attempt+1)
	}
	return err
}

func getRecord(txn *badger.Txn, sid string) (*sessionRecord, error) {
	item, err := txn.Get(sessionKey(sid))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("badger: decode session: %w", err)
	}
	return &rec, nil
}

func putRecord(txn *badger.Txn, sid string, rec *sessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("badger: encode session: %w", err)
	}
	return txn.Set(sessionKey(sid), raw)
}

func readEvents(txn *badger.Txn, sid string) ([]core.Event, error) {
	prefix := eventPrefix(sid)
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = prefix
	it := txn.NewIterator(iterOpts)
	defer it.Close()

	events := []core.Event{}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		// A longer session id sharing this prefix ("a" vs "a/b") yields a
		// different key length.
		if len(item.Key()) != len(prefix)+seqWidth {
			continue
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var ev core.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("badger: decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// badgerLogger routes badger's internal logging into a logging.Logger.
type badgerLogger struct{ l logging.Logger }

func (b badgerLogger) Errorf(f string, v ...any) { b.l.Error("badger: " + fmt.Sprintf(f, v...)) }

func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn("badger: " + fmt.Sprintf(f, v...)) }

func (b badgerLogger) Infof(f string, v ...any) { b.l.Debug("badger: " + fmt.Sprintf(f, v...)) }

func (b badgerLogger) Debugf(f string, v ...any) { b.l.Debug("badger: " + fmt.Sprintf(f, v...)) }
