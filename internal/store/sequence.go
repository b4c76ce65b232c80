package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
)

const maxSequenceAttempts = 32

// The read only picks the expected value; the conditional write below is what
// keeps two writers from handing out the same id.
const sequenceReadConsistency = gocql.Quorum

// casStep returns the conditional write that moves a sequence from current
// to the returned value. found is false when the sequence row is missing.
func casStep(name string, current int64, found bool) (string, []interface{}, int64) {
	if !found {
		return `INSERT INTO sequences (name, value) VALUES (?, ?) IF NOT EXISTS`,
			[]interface{}{name, int64(1)}, 1
	}
	return `UPDATE sequences SET value = ? WHERE name = ? IF value = ?`,
		[]interface{}{current + 1, name, current}, current + 1
}

// NextSequence bumps the named counter with compare-and-set, retrying when
// another writer got there first.
func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var current int64
		err := s.Session.Query(
			`SELECT value FROM sequences WHERE name = ?`,
			name,
		).WithContext(ctx).Consistency(sequenceReadConsistency).Scan(&current)

		found := err == nil
		if err != nil && !errors.Is(err, gocql.ErrNotFound) {
			logg.Error("store", "Failed to read sequence "+name, err)
			return 0, err
		}

		stmt, args, next := casStep(name, current, found)
		applied, err := s.Session.Query(stmt, args...).WithContext(ctx).MapScanCAS(make(map[string]interface{}))
		if err != nil {
			logg.Error("store", "Failed to advance sequence "+name, err)
			return 0, err
		}
		if applied {
			return next, nil
		}
	}
	return 0, fmt.Errorf("sequence %s: too much contention after %d attempts", name, maxSequenceAttempts)
}
