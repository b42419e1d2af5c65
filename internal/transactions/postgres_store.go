package transactions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
)

// Compile-time checks that PostgresStore implements Store and Query.
var (
	_ Store = (*PostgresStore)(nil)
	_ Query = (*PostgresStore)(nil)
)

// PostgresStore implements Store and Query backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO transactions (kind, asset, amount, amount_base, sender_customer_id, receiver_customer_id, status)
		VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)
		RETURNING id, created_at
	`,
		string(tx.Kind), string(tx.Asset), tx.Amount.String(), tx.AmountBase.String(),
		nullInt64(tx.SenderID), nullInt64(tx.ReceiverID), string(tx.Status),
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, kind, asset, amount, amount_base, sender_customer_id, receiver_customer_id, status, created_at
		FROM transactions WHERE id = $1
	`, id)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id int64, status Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET status = $2 WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// whereClause renders the filter into SQL conditions and bind args.
func whereClause(f Filter) (string, []interface{}) {
	col := "sender_customer_id"
	if f.Role == RoleReceiver {
		col = "receiver_customer_id"
	}

	conds := []string{fmt.Sprintf("%s = $1", col)}
	args := []interface{}{f.CustomerID}

	if !f.Since.IsZero() {
		args = append(args, f.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.MinAmount != nil {
		args = append(args, f.MinAmount.String())
		conds = append(conds, fmt.Sprintf("amount_base >= $%d::NUMERIC", len(args)))
	}
	if f.ExcludeID != 0 {
		args = append(args, f.ExcludeID)
		conds = append(conds, fmt.Sprintf("id <> $%d", len(args)))
	}

	return strings.Join(conds, " AND "), args
}

func (p *PostgresStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args := whereClause(f)
	var n int
	err := p.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrHistoryUnavailable, err)
	}
	return n, nil
}

func (p *PostgresStore) Sum(ctx context.Context, f Filter) (decimal.Decimal, error) {
	where, args := whereClause(f)
	var sum string
	err := p.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount_base), 0) FROM transactions WHERE "+where, args...).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: sum: %v", ErrHistoryUnavailable, err)
	}
	d, err := decimal.NewFromString(sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: parse sum: %v", ErrHistoryUnavailable, err)
	}
	return d, nil
}

func (p *PostgresStore) GroupBySender(ctx context.Context, f Filter) ([]SenderGroup, error) {
	where, args := whereClause(f)
	rows, err := p.db.QueryContext(ctx, `
		SELECT sender_customer_id, COUNT(*), COALESCE(SUM(amount_base), 0)
		FROM transactions
		WHERE `+where+` AND sender_customer_id IS NOT NULL
		GROUP BY sender_customer_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: group by sender: %v", ErrHistoryUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var result []SenderGroup
	for rows.Next() {
		var g SenderGroup
		var sum string
		if err := rows.Scan(&g.SenderID, &g.Count, &sum); err != nil {
			return nil, fmt.Errorf("%w: scan group: %v", ErrHistoryUnavailable, err)
		}
		g.Sum, err = decimal.NewFromString(sum)
		if err != nil {
			return nil, fmt.Errorf("%w: parse group sum: %v", ErrHistoryUnavailable, err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: group rows: %v", ErrHistoryUnavailable, err)
	}
	return result, nil
}

func (p *PostgresStore) MostRecent(ctx context.Context, f Filter) (*Transaction, error) {
	where, args := whereClause(f)
	row := p.db.QueryRowContext(ctx, `
		SELECT id, kind, asset, amount, amount_base, sender_customer_id, receiver_customer_id, status, created_at
		FROM transactions WHERE `+where+`
		ORDER BY created_at DESC LIMIT 1
	`, args...)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: most recent: %v", ErrHistoryUnavailable, err)
	}
	return tx, nil
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scannable) (*Transaction, error) {
	var tx Transaction
	var kind, asset, status, amount, amountBase string
	var sender, receiver sql.NullInt64

	err := row.Scan(&tx.ID, &kind, &asset, &amount, &amountBase, &sender, &receiver, &status, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	tx.Kind = Kind(kind)
	tx.Asset = assets.Code(asset)
	tx.Status = Status(status)
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if tx.AmountBase, err = decimal.NewFromString(amountBase); err != nil {
		return nil, fmt.Errorf("parse amount_base: %w", err)
	}
	if sender.Valid {
		tx.SenderID = sender.Int64
	}
	if receiver.Valid {
		tx.ReceiverID = receiver.Int64
	}
	return &tx, nil
}

// nullInt64 maps the zero customer id to SQL NULL.
func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
