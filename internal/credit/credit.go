package credit

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Reason classifies why a ledger entry exists.
type Reason string

const (
	ReasonGeneration Reason = "generation"
	ReasonCheckIn    Reason = "check_in"
	ReasonRedeem     Reason = "redeem"
	ReasonAdminGrant Reason = "admin_grant"
	ReasonRefund     Reason = "refund"
)

// Places is the fixed number of decimal places every committed amount
// carries. Rounding happens exactly once, at commit time; stored amounts
// are never re-rounded so the entry sum stays exact.
const Places = 4

// Valid reports whether the reason is one of the known classifications.
func (r Reason) Valid() bool {
	switch r {
	case ReasonGeneration, ReasonCheckIn, ReasonRedeem, ReasonAdminGrant, ReasonRefund:
		return true
	}
	return false
}

// Entry is a single immutable signed credit movement.
type Entry struct {
	ID        int64           `json:"id"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    Reason          `json:"reason"`
	Detail    string          `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AccountStatus captures whether an account is usable. Accounts are never
// hard-deleted; suspension is the only removal-like state.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// Account is the owner of a ledger. The balance is not stored here; it is
// always the sum of the account's entries (the service keeps a cached
// mirror updated atomically with each append).
type Account struct {
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	Timezone    string        `json:"timezone,omitempty"`
	Status      AccountStatus `json:"status"`
	LastCheckIn *time.Time    `json:"last_check_in,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Code is an admin-created redeem code. It transitions unused -> used at
// most once, and never after its expiry.
type Code struct {
	Code      string          `json:"code"`
	Amount    decimal.Decimal `json:"amount"`
	Used      bool            `json:"used"`
	UsedBy    *string         `json:"used_by,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
	CreatedAt time.Time       `json:"created_at"`
}

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrNonPositiveAmount     = errors.New("amount must be positive")
	ErrInvalidReason         = errors.New("invalid ledger reason")
	ErrAlreadyCheckedInToday = errors.New("already checked in today")
	ErrInvalidOrUsedCode     = errors.New("invalid, expired or already used code")
	ErrCodeExists            = errors.New("code already exists")
)

// Store persists accounts, ledger entries and redeem codes across the
// SQLite/Postgres backends. Multi-statement operations (check-in,
// redemption) must be applied in a single transaction; the concurrency
// discipline above the store lives in the Ledger service.
type Store interface {
	EnsureAccount(ctx context.Context, email string) (*Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)

	Append(ctx context.Context, entry Entry) (Entry, error)
	Sum(ctx context.Context, accountID string) (decimal.Decimal, error)
	List(ctx context.Context, accountID string, limit, offset int) ([]Entry, error)

	// RecordCheckIn appends the entry and advances the account's
	// last-check-in timestamp as one atomic unit.
	RecordCheckIn(ctx context.Context, entry Entry, checkedInAt time.Time) (Entry, error)

	CreateCode(ctx context.Context, code Code) error
	GetCode(ctx context.Context, code string) (*Code, error)
	// Redeem marks the code used by the entry's account and appends the
	// credit entry in one transaction. It must fail with
	// ErrInvalidOrUsedCode when the code is missing, already used, or
	// expired at the provided instant, without writing anything.
	Redeem(ctx context.Context, code string, entry Entry, now time.Time) (Entry, error)

	Close() error
}
