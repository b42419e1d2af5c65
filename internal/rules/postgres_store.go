package rules

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) EnsureCatalog(ctx context.Context) error {
	for _, key := range Catalog {
		r := DefaultRule(key)
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO rules (key, enabled, period_days, threshold_fiat, min_count, percent_threshold, description, updated_at)
			VALUES ($1, $2, $3, $4::NUMERIC, $5, $6::NUMERIC, $7, NOW())
			ON CONFLICT (key) DO NOTHING
		`,
			string(r.Key), r.Enabled,
			nullInt(r.PeriodDays), nullDecimal(r.ThresholdFiat),
			nullInt(r.MinCount), nullDecimal(r.PercentThreshold),
			r.Description,
		)
		if err != nil {
			return fmt.Errorf("ensure rule %s: %w", key, err)
		}
	}
	return nil
}

const ruleColumns = "key, enabled, period_days, threshold_fiat, min_count, percent_threshold, description, updated_at"

func (p *PostgresStore) ListEnabled(ctx context.Context) ([]*Rule, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT "+ruleColumns+" FROM rules WHERE enabled = TRUE")
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	return sortCatalogOrder(result), nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Rule, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT "+ruleColumns+" FROM rules")
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	return sortCatalogOrder(result), nil
}

func (p *PostgresStore) Get(ctx context.Context, key Key) (*Rule, error) {
	row := p.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM rules WHERE key = $1", string(key))

	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) Update(ctx context.Context, key Key, u Update) (*Rule, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM rules WHERE key = $1 FOR UPDATE", string(key))
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock rule: %w", err)
	}

	applyUpdate(r, u)
	r.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE rules SET
			enabled           = $2,
			period_days       = $3,
			threshold_fiat    = $4::NUMERIC,
			min_count         = $5,
			percent_threshold = $6::NUMERIC,
			updated_at        = $7
		WHERE key = $1
	`,
		string(r.Key), r.Enabled,
		nullInt(r.PeriodDays), nullDecimal(r.ThresholdFiat),
		nullInt(r.MinCount), nullDecimal(r.PercentThreshold),
		r.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r, nil
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scannable) (*Rule, error) {
	var r Rule
	var key string
	var periodDays, minCount sql.NullInt64
	var threshold, percent sql.NullString

	err := row.Scan(&key, &r.Enabled, &periodDays, &threshold, &minCount, &percent, &r.Description, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Key = Key(key)
	if periodDays.Valid {
		v := int(periodDays.Int64)
		r.PeriodDays = &v
	}
	if minCount.Valid {
		v := int(minCount.Int64)
		r.MinCount = &v
	}
	if threshold.Valid {
		d, err := decimal.NewFromString(threshold.String)
		if err != nil {
			return nil, fmt.Errorf("parse threshold_fiat: %w", err)
		}
		r.ThresholdFiat = &d
	}
	if percent.Valid {
		d, err := decimal.NewFromString(percent.String)
		if err != nil {
			return nil, fmt.Errorf("parse percent_threshold: %w", err)
		}
		r.PercentThreshold = &d
	}
	return &r, nil
}

func scanRules(rows *sql.Rows) ([]*Rule, error) {
	var result []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullDecimal(v *decimal.Decimal) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}
