package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/safetransfer/internal/address"
	"github.com/mbd888/safetransfer/internal/retry"
)

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	// Two transactions racing to create the same account; the replay sees
	// the winner's row.
	uniqueViolation = "23505"
)

// PostgresBackend stores accounts in the ledger_accounts table. Updates run
// at SERIALIZABLE and lock the rows they read; a transaction that loses a
// serialization conflict is replayed from the start.
type PostgresBackend struct {
	db          *sql.DB
	maxAttempts int
	baseDelay   time.Duration
}

// NewPostgresBackend wraps an open database. Run migrations first.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db, maxAttempts: 10, baseDelay: 10 * time.Millisecond}
}

// DB exposes the pool for stats collection.
func (p *PostgresBackend) DB() *sql.DB {
	return p.db
}

func (p *PostgresBackend) Name() string { return "postgres" }

func (p *PostgresBackend) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&postgresTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresBackend) Update(ctx context.Context, fn func(ReadWriter) error) error {
	return retry.Do(ctx, p.maxAttempts, p.baseDelay, func() error {
		err := p.updateOnce(ctx, fn)
		if err == nil || isRetryable(err) {
			return err
		}
		return retry.Permanent(err)
	})
}

func (p *PostgresBackend) updateOnce(ctx context.Context, fn func(ReadWriter) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&postgresTx{ctx: ctx, tx: tx, forUpdate: true}); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresBackend) Close() error {
	return p.db.Close()
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == serializationFailure || pqErr.Code == deadlockDetected || pqErr.Code == uniqueViolation
}

type postgresTx struct {
	ctx       context.Context
	tx        *sql.Tx
	forUpdate bool
}

func (t *postgresTx) Get(key address.Address) ([]byte, bool, error) {
	query := `SELECT data FROM ledger_accounts WHERE address = $1`
	if t.forUpdate {
		query += ` FOR UPDATE`
	}
	var data []byte
	err := t.tx.QueryRowContext(t.ctx, query, key[:]).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (t *postgresTx) Put(key address.Address, value []byte) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO ledger_accounts (address, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (address) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, key[:], value)
	return err
}

func (t *postgresTx) Delete(key address.Address) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM ledger_accounts WHERE address = $1`, key[:])
	return err
}
