// Package cases implements review cases opened for triggered fraud rules.
//
// A case is created when a rule matches a transaction, reviewed by an
// administrator, and resolved exactly once. Resolution transitions the
// underlying transaction to its terminal status in the same atomic unit.
package cases

import (
	"context"
	"errors"
	"time"

	"github.com/meridianpay/sentinel/internal/rules"
	"github.com/meridianpay/sentinel/internal/transactions"
)

var (
	ErrCaseNotFound        = errors.New("case not found")
	ErrCaseAlreadyResolved = errors.New("case already resolved")
)

// Status is a case's review state. OPEN transitions to APPROVED or REJECTED
// exactly once; terminal states are final.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Case is one review record for a triggered rule.
type Case struct {
	ID            int64     `json:"id"`
	TransactionID int64     `json:"transactionId"`
	RuleKey       rules.Key `json:"ruleKey"`
	Reason        string    `json:"reason"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Store persists case records.
//
// OpenCase must guarantee at most one OPEN case per transaction: opening
// against a transaction that already has an OPEN case returns the existing
// case with created=false, never a second row. A transaction may accumulate
// resolved cases over time from later re-evaluations.
//
// Resolve atomically transitions an OPEN case to the decision and the
// referenced transaction to txStatus.
type Store interface {
	OpenCase(ctx context.Context, c *Case) (existing *Case, created bool, err error)
	Get(ctx context.Context, id int64) (*Case, error)
	List(ctx context.Context, status Status, limit int) ([]*Case, error)
	Resolve(ctx context.Context, id int64, decision Status, txStatus transactions.Status) (*Case, error)
}
