package sqlutil

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Commit(context.Context) error   { f.committed = true; return nil }
func (f *fakeTx) Rollback(context.Context) error { f.rolledBack = true; return nil }

type fakeDB struct {
	tx  *fakeTx
	err error
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tx, nil
}

type store struct{ tx pgx.Tx }

func newStore(tx pgx.Tx) *store { return &store{tx: tx} }

func TestRunCommits(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	var bound pgx.Tx
	err := Run(context.Background(), db, newStore, func(s *store) error {
		bound = s.tx
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, db.tx, bound, "store is bound to the transaction")
	assert.True(t, db.tx.committed)
	assert.False(t, db.tx.rolledBack)
}

func TestRunRollsBack(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	boom := errors.New("boom")
	err := Run(context.Background(), db, newStore, func(*store) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, db.tx.committed)
	assert.True(t, db.tx.rolledBack)
}

func TestRunBeginError(t *testing.T) {
	db := &fakeDB{err: errors.New("no connection")}
	called := false
	err := Run(context.Background(), db, newStore, func(*store) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called, "fn must not run without a transaction")
}
