package cache

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/yanun0323/errors"
)

type PebbleStore struct {
	db *pebble.DB
}

func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "open pebble")
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Write(_ context.Context, batch []Write) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, w := range batch {
		var err error
		if w.Delete {
			err = b.Delete([]byte(w.Key), nil)
		} else {
			err = b.Set([]byte(w.Key), w.Value, nil)
		}
		if err != nil {
			return errors.Wrap(err, "batch write")
		}
	}
	return b.Commit(pebble.Sync)
}

// upperBound is the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound([]byte(prefix)),
	})
	if err != nil {
		return errors.Wrap(err, "new iter")
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(string(iter.Key()), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) DeletePrefix(_ context.Context, prefix string) error {
	start := []byte(prefix)
	end := upperBound(start)
	if end == nil {
		end = []byte{0xff, 0xff, 0xff, 0xff}
	}
	return s.db.DeleteRange(start, end, pebble.Sync)
}

func (s *PebbleStore) Close() error { return s.db.Close() }

var _ Store = (*PebbleStore)(nil)
