package messagelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const (
	recordPrefix = "msg:"
	sequenceKey  = "seq:messages"
	sequenceBand = 128
)

// BadgerSink stores records under "msg:{sequence}" keys. The sequence is
// zero padded to 20 digits so lexicographic key order is append order.
type BadgerSink struct {
	mu     sync.Mutex
	db     *badger.DB
	seq    *badger.Sequence
	closed bool
}

// OpenBadger opens a badger database rooted at dir.
func OpenBadger(dir string, syncWrites bool, log *slog.Logger) (*BadgerSink, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{log: log}).
		WithSyncWrites(syncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger message log %s: %w", dir, err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBand)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acquiring message sequence: %w", err)
	}

	return &BadgerSink{db: db, seq: seq}, nil
}

func recordKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", recordPrefix, n))
}

// Append stores rec under the next sequence number.
func (s *BadgerSink) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next message sequence: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(n), value)
	})
}

// Each iterates records in sequence order.
func (s *BadgerSink) Each(ctx context.Context, fn func(Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(recordPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &rec)
			})
			if err != nil {
				return fmt.Errorf("decoding record %s: %w", it.Item().Key(), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the sequence lease and closes the database.
func (s *BadgerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	releaseErr := s.seq.Release()
	closeErr := s.db.Close()
	return errors.Join(releaseErr, closeErr)
}

// badgerLogger routes badger's internal logging into slog. Badger is chatty
// at info level, so info and debug both map to slog debug.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug("badger: " + fmt.Sprintf(format, args...))
}
