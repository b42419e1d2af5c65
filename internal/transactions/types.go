// Package transactions holds the transaction record and the history query
// surface the rule engine aggregates over.
package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrHistoryUnavailable wraps query-layer failures. Window-based rules
	// without data are not safely "no match", so callers abort evaluation
	// rather than skip.
	ErrHistoryUnavailable = errors.New("transaction history unavailable")
)

// Kind classifies a transaction's direction.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindTransfer   Kind = "transfer"
)

// Status is a transaction's lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFlagged  Status = "FLAGGED"
	StatusRejected Status = "REJECTED"
)

// Transaction is a recorded movement of funds. AmountBase is the amount
// normalized into the canonical fiat at record time, so window aggregates
// compare in the same unit as rule thresholds.
type Transaction struct {
	ID         int64           `json:"id"`
	Kind       Kind            `json:"kind"`
	Asset      assets.Code     `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	AmountBase decimal.Decimal `json:"amountBase"`
	SenderID   int64           `json:"senderCustomerId,omitempty"`
	ReceiverID int64           `json:"receiverCustomerId,omitempty"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Role selects which side of a transaction a history filter matches on.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Filter scopes a history aggregate to one customer's transactions on one
// side, within a trailing window. MinAmount, when set, keeps only rows whose
// base-fiat amount is at least that value. ExcludeID removes the transaction
// currently under evaluation from its own aggregates.
type Filter struct {
	Role       Role
	CustomerID int64
	Since      time.Time
	MinAmount  *decimal.Decimal
	ExcludeID  int64
}

// SenderGroup is one row of a group-by-sender aggregate.
type SenderGroup struct {
	SenderID int64
	Count    int
	Sum      decimal.Decimal
}

// Store persists transaction records.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id int64) (*Transaction, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

// Query is the read-only aggregate interface the rule engine consumes.
// Implementations wrap infrastructure failures in ErrHistoryUnavailable.
type Query interface {
	Count(ctx context.Context, f Filter) (int, error)
	Sum(ctx context.Context, f Filter) (decimal.Decimal, error)
	GroupBySender(ctx context.Context, f Filter) ([]SenderGroup, error)
	MostRecent(ctx context.Context, f Filter) (*Transaction, error)
}
