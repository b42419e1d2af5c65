package cases

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridianpay/sentinel/internal/rules"
	"github.com/meridianpay/sentinel/internal/transactions"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. The partial unique
// index on cases(transaction_id) WHERE status='OPEN' enforces at most one
// open case per transaction even under concurrent opens.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed case store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const caseColumns = "id, transaction_id, rule_key, reason, status, created_at, updated_at"

func (p *PostgresStore) OpenCase(ctx context.Context, c *Case) (*Case, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO cases (transaction_id, rule_key, reason, status)
		VALUES ($1, $2, $3, 'OPEN')
		ON CONFLICT (transaction_id) WHERE status = 'OPEN' DO NOTHING
		RETURNING `+caseColumns,
		c.TransactionID, string(c.RuleKey), c.Reason,
	)

	created, err := scanCase(row)
	if err == nil {
		return created, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("open case: %w", err)
	}

	// Lost the race (or duplicate call): return the existing open case.
	row = p.db.QueryRowContext(ctx,
		"SELECT "+caseColumns+" FROM cases WHERE transaction_id = $1 AND status = 'OPEN'",
		c.TransactionID)
	existing, err := scanCase(row)
	if err != nil {
		return nil, false, fmt.Errorf("fetch existing open case: %w", err)
	}
	return existing, false, nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Case, error) {
	row := p.db.QueryRowContext(ctx,
		"SELECT "+caseColumns+" FROM cases WHERE id = $1", id)

	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

func (p *PostgresStore) List(ctx context.Context, status Status, limit int) ([]*Case, error) {
	query := "SELECT " + caseColumns + " FROM cases"
	args := []interface{}{limit}
	if status != "" {
		query += " WHERE status = $2"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC LIMIT $1"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// Resolve flips the case and its transaction in a single database
// transaction. The status='OPEN' guard in the UPDATE makes double
// resolution lose cleanly.
func (p *PostgresStore) Resolve(ctx context.Context, id int64, decision Status, txStatus transactions.Status) (*Case, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE cases SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'OPEN'
		RETURNING `+caseColumns,
		id, string(decision), time.Now(),
	)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		// Distinguish missing from already-resolved.
		var existing string
		err = tx.QueryRowContext(ctx, "SELECT status FROM cases WHERE id = $1", id).Scan(&existing)
		if err == sql.ErrNoRows {
			return nil, ErrCaseNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("check case status: %w", err)
		}
		return nil, ErrCaseAlreadyResolved
	}
	if err != nil {
		return nil, fmt.Errorf("resolve case: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE transactions SET status = $2 WHERE id = $1",
		c.TransactionID, string(txStatus))
	if err != nil {
		return nil, fmt.Errorf("update transaction status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, transactions.ErrTransactionNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanCase(row scannable) (*Case, error) {
	var c Case
	var ruleKey, status string

	err := row.Scan(&c.ID, &c.TransactionID, &ruleKey, &c.Reason, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.RuleKey = rules.Key(ruleKey)
	c.Status = Status(status)
	return &c, nil
}
