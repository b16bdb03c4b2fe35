package credit

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Config controls service-level policy knobs.
type Config struct {
	// CheckInMin/CheckInMax bound the uniform integer award for a daily
	// check-in, inclusive on both ends.
	CheckInMin int64
	CheckInMax int64
	// Now and RandInt exist for deterministic tests.
	Now     func() time.Time
	RandInt func(n int64) int64
	Logger  *log.Logger
}

// Ledger is the transactional boundary for all balance changes. Every
// mutating operation on one account is serialized behind that account's
// lock; operations on different accounts do not block each other. The
// cached balance is updated under the same lock as the entry append, so
// it can never drift from the entry sum.
type Ledger struct {
	store Store
	cfg   Config

	mu       sync.Mutex
	accounts map[string]*accountState

	codesMu sync.Mutex
	codes   map[string]*sync.Mutex
}

type accountState struct {
	mu      sync.Mutex
	loaded  bool
	balance decimal.Decimal
}

// NewLedger wraps a Store with the in-process serialization and caching
// the ledger invariants require.
func NewLedger(store Store, cfg Config) *Ledger {
	if cfg.CheckInMin <= 0 {
		cfg.CheckInMin = 10
	}
	if cfg.CheckInMax < cfg.CheckInMin {
		cfg.CheckInMax = cfg.CheckInMin + 40
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RandInt == nil {
		cfg.RandInt = rand.Int64N
	}
	return &Ledger{
		store:    store,
		cfg:      cfg,
		accounts: make(map[string]*accountState),
		codes:    make(map[string]*sync.Mutex),
	}
}

// EnsureAccount finds or creates the account for the given email.
func (l *Ledger) EnsureAccount(ctx context.Context, email string) (*Account, error) {
	return l.store.EnsureAccount(ctx, email)
}

// GetAccount returns the account record.
func (l *Ledger) GetAccount(ctx context.Context, id string) (*Account, error) {
	return l.store.GetAccount(ctx, id)
}

// GetBalance returns the cached balance, loading it from the entry sum on
// first touch. It always equals the sum of all committed entries.
func (l *Ledger) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	st := l.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := l.load(ctx, st, accountID); err != nil {
		return decimal.Zero, err
	}
	return st.balance, nil
}

// Debit appends a negative entry of -amount and lowers the balance.
// Overdraft is allowed: the debit itself never fails on balance, callers
// decide whether a negative balance blocks new work.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount decimal.Decimal, reason Reason, detail string) (Entry, error) {
	amount, err := commitAmount(amount, reason)
	if err != nil {
		return Entry{}, err
	}
	st := l.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := l.load(ctx, st, accountID); err != nil {
		return Entry{}, err
	}
	entry, err := l.store.Append(ctx, Entry{
		AccountID: accountID,
		Amount:    amount.Neg(),
		Reason:    reason,
		Detail:    detail,
		CreatedAt: l.cfg.Now().UTC(),
	})
	if err != nil {
		return Entry{}, err
	}
	st.balance = st.balance.Sub(amount)
	return entry, nil
}

// Credit appends a positive entry and raises the balance.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reason Reason, detail string) (Entry, error) {
	amount, err := commitAmount(amount, reason)
	if err != nil {
		return Entry{}, err
	}
	st := l.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := l.load(ctx, st, accountID); err != nil {
		return Entry{}, err
	}
	entry, err := l.store.Append(ctx, Entry{
		AccountID: accountID,
		Amount:    amount,
		Reason:    reason,
		Detail:    detail,
		CreatedAt: l.cfg.Now().UTC(),
	})
	if err != nil {
		return Entry{}, err
	}
	st.balance = st.balance.Add(amount)
	return entry, nil
}

// CheckIn credits a uniform random integer award once per calendar day,
// resolved in the account's reference timezone. The entry append and the
// last-check-in update are one atomic unit in the store.
func (l *Ledger) CheckIn(ctx context.Context, accountID string) (int64, decimal.Decimal, error) {
	st := l.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := l.load(ctx, st, accountID); err != nil {
		return 0, decimal.Zero, err
	}
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, decimal.Zero, err
	}
	now := l.cfg.Now()
	loc := accountLocation(acct)
	if acct.LastCheckIn != nil && sameCalendarDay(*acct.LastCheckIn, now, loc) {
		return 0, decimal.Zero, ErrAlreadyCheckedInToday
	}
	points := l.cfg.CheckInMin + l.cfg.RandInt(l.cfg.CheckInMax-l.cfg.CheckInMin+1)
	amount := decimal.NewFromInt(points)
	_, err = l.store.RecordCheckIn(ctx, Entry{
		AccountID: accountID,
		Amount:    amount,
		Reason:    ReasonCheckIn,
		Detail:    fmt.Sprintf("daily check-in +%d", points),
		CreatedAt: now.UTC(),
	}, now.UTC())
	if err != nil {
		return 0, decimal.Zero, err
	}
	st.balance = st.balance.Add(amount)
	return points, st.balance, nil
}

// Redeem atomically marks the code used by this account and credits its
// amount. At most one account ever redeems a given code, also under
// concurrent attempts: the per-code lock serializes in-process callers
// and the store's conditional update is the final arbiter.
func (l *Ledger) Redeem(ctx context.Context, accountID, code string) (decimal.Decimal, decimal.Decimal, error) {
	cl := l.codeLock(code)
	cl.Lock()
	defer cl.Unlock()

	st := l.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := l.load(ctx, st, accountID); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	rec, err := l.store.GetCode(ctx, code)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if rec == nil {
		return decimal.Zero, decimal.Zero, ErrInvalidOrUsedCode
	}
	now := l.cfg.Now()
	entry, err := l.store.Redeem(ctx, code, Entry{
		AccountID: accountID,
		Amount:    rec.Amount.Round(Places),
		Reason:    ReasonRedeem,
		Detail:    "redeem code " + code,
		CreatedAt: now.UTC(),
	}, now.UTC())
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	st.balance = st.balance.Add(entry.Amount)
	return entry.Amount, st.balance, nil
}

// History lists committed entries newest-first.
func (l *Ledger) History(ctx context.Context, accountID string, limit, offset int) ([]Entry, error) {
	return l.store.List(ctx, accountID, limit, offset)
}

// CreateCode registers an admin-created redeem code.
func (l *Ledger) CreateCode(ctx context.Context, code Code) error {
	if !code.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	code.Amount = code.Amount.Round(Places)
	if code.CreatedAt.IsZero() {
		code.CreatedAt = l.cfg.Now().UTC()
	}
	return l.store.CreateCode(ctx, code)
}

// commitAmount applies the single commit-time rounding and validates the
// operation input.
func commitAmount(amount decimal.Decimal, reason Reason) (decimal.Decimal, error) {
	if !reason.Valid() {
		return decimal.Zero, ErrInvalidReason
	}
	rounded := amount.Round(Places)
	if !rounded.IsPositive() {
		return decimal.Zero, ErrNonPositiveAmount
	}
	return rounded, nil
}

func (l *Ledger) state(accountID string) *accountState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.accounts[accountID]
	if !ok {
		st = &accountState{}
		l.accounts[accountID] = st
	}
	return st
}

// load primes the cached balance from the store. Callers must hold st.mu.
func (l *Ledger) load(ctx context.Context, st *accountState, accountID string) error {
	if st.loaded {
		return nil
	}
	sum, err := l.store.Sum(ctx, accountID)
	if err != nil {
		return err
	}
	st.balance = sum
	st.loaded = true
	return nil
}

func (l *Ledger) codeLock(code string) *sync.Mutex {
	l.codesMu.Lock()
	defer l.codesMu.Unlock()
	m, ok := l.codes[code]
	if !ok {
		m = &sync.Mutex{}
		l.codes[code] = m
	}
	return m
}

func accountLocation(acct *Account) *time.Location {
	if acct == nil || acct.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(acct.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func sameCalendarDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
