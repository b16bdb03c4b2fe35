package credit_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loreweave/loreweave-engine/internal/credit"
	creditsql "github.com/loreweave/loreweave-engine/internal/credit/sqlite"
	"github.com/shopspring/decimal"
)

func newTestLedger(t *testing.T, cfg credit.Config) (*credit.Ledger, *creditsql.Store) {
	t.Helper()
	store, err := creditsql.New(filepath.Join(t.TempDir(), "credits.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return credit.NewLedger(store, cfg), store
}

func mustAccount(t *testing.T, ledger *credit.Ledger, email string) *credit.Account {
	t.Helper()
	acct, err := ledger.EnsureAccount(context.Background(), email)
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	return acct
}

func TestDebitScenario(t *testing.T) {
	ledger, _ := newTestLedger(t, credit.Config{})
	ctx := context.Background()
	acct := mustAccount(t, ledger, "writer@example.com")

	if _, err := ledger.Credit(ctx, acct.ID, decimal.NewFromInt(10), credit.ReasonAdminGrant, "seed"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	entry, err := ledger.Debit(ctx, acct.ID, decimal.RequireFromString("3.5"), credit.ReasonGeneration, "module geography")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if want := decimal.RequireFromString("-3.5"); !entry.Amount.Equal(want) {
		t.Fatalf("expected entry amount %s, got %s", want, entry.Amount)
	}
	bal, err := ledger.GetBalance(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if want := decimal.RequireFromString("6.5"); !bal.Equal(want) {
		t.Fatalf("expected balance %s, got %s", want, bal)
	}
}

func TestOverdraftAllowed(t *testing.T) {
	ledger, _ := newTestLedger(t, credit.Config{})
	ctx := context.Background()
	acct := mustAccount(t, ledger, "writer@example.com")

	if _, err := ledger.Debit(ctx, acct.ID, decimal.NewFromInt(5), credit.ReasonGeneration, "chat"); err != nil {
		t.Fatalf("Debit into overdraft: %v", err)
	}
	bal, err := ledger.GetBalance(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !bal.Equal(decimal.NewFromInt(-5)) {
		t.Fatalf("expected -5, got %s", bal)
	}
}

func TestAmountValidationAndRounding(t *testing.T) {
	ledger, _ := newTestLedger(t, credit.Config{})
	ctx := context.Background()
	acct := mustAccount(t, ledger, "writer@example.com")

	if _, err := ledger.Debit(ctx, acct.ID, decimal.Zero, credit.ReasonGeneration, ""); !errors.Is(err, credit.ErrNonPositiveAmount) {
		t.Fatalf("expected ErrNonPositiveAmount, got %v", err)
	}
	if _, err := ledger.Credit(ctx, acct.ID, decimal.NewFromInt(-1), credit.ReasonAdminGrant, ""); !errors.Is(err, credit.ErrNonPositiveAmount) {
		t.Fatalf("expected ErrNonPositiveAmount, got %v", err)
	}
	if _, err := ledger.Debit(ctx, acct.ID, decimal.NewFromInt(1), "tip", ""); !errors.Is(err, credit.ErrInvalidReason) {
		t.Fatalf("expected ErrInvalidReason, got %v", err)
	}

	// Commit-time rounding, half away from zero, exactly once.
	entry, err := ledger.Debit(ctx, acct.ID, decimal.RequireFromString("3.14155"), credit.ReasonGeneration, "")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if want := decimal.RequireFromString("-3.1416"); !entry.Amount.Equal(want) {
		t.Fatalf("expected rounded amount %s, got %s", want, entry.Amount)
	}
}

func TestLedgerSumInvariantUnderConcurrency(t *testing.T) {
	ledger, store := newTestLedger(t, credit.Config{})
	ctx := context.Background()
	acct := mustAccount(t, ledger, "writer@example.com")

	const workers = 8
	const perWorker = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if i%2 == 0 {
					if _, err := ledger.Credit(ctx, acct.ID, decimal.RequireFromString("0.7"), credit.ReasonAdminGrant, "grant"); err != nil {
						t.Errorf("Credit: %v", err)
						return
					}
				} else {
					if _, err := ledger.Debit(ctx, acct.ID, decimal.RequireFromString("0.3"), credit.ReasonGeneration, "spend"); err != nil {
						t.Errorf("Debit: %v", err)
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()

	bal, err := ledger.GetBalance(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	sum, err := store.Sum(ctx, acct.ID)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if !bal.Equal(sum) {
		t.Fatalf("cached balance %s diverged from entry sum %s", bal, sum)
	}
	// 4 crediting workers at +0.7 and 4 debiting at -0.3, 20 ops each.
	if want := decimal.RequireFromString("32"); !bal.Equal(want) {
		t.Fatalf("expected balance %s, got %s", want, bal)
	}
}

func TestCheckInOncePerDay(t *testing.T) {
	now := time.Date(2026, 8, 28, 23, 30, 0, 0, time.UTC)
	var mu sync.Mutex
	current := now
	cfg := credit.Config{
		CheckInMin: 10,
		CheckInMax: 50,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return current
		},
	}
	ledger, _ := newTestLedger(t, cfg)
	ctx := context.Background()
	acct := mustAccount(t, ledger, "writer@example.com")

	points, bal, err := ledger.CheckIn(ctx, acct.ID)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if points < 10 || points > 50 {
		t.Fatalf("award %d outside [10,50]", points)
	}
	if !bal.Equal(decimal.NewFromInt(points)) {
		t.Fatalf("expected balance %d, got %s", points, bal)
	}

	if _, _, err := ledger.CheckIn(ctx, acct.ID); !errors.Is(err, credit.ErrAlreadyCheckedInToday) {
		t.Fatalf("expected ErrAlreadyCheckedInToday, got %v", err)
	}

	got, err := ledger.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.LastCheckIn == nil || !sameUTCDay(*got.LastCheckIn, now) {
		t.Fatalf("expected last check-in on %v, got %v", now, got.LastCheckIn)
	}

	// Next calendar day unlocks a fresh award.
	mu.Lock()
	current = now.Add(time.Hour) // 2026-08-29 00:30 UTC
	mu.Unlock()
	if _, _, err := ledger.CheckIn(ctx, acct.ID); err != nil {
		t.Fatalf("CheckIn next day: %v", err)
	}
}

func TestConcurrentCheckInSingleSuccess(t *testing.T) {
	ledger, _ := newTestLedger(t, credit.Config{CheckInMin: 10, CheckInMax: 50})
	ctx := context.Background()
	acct := mustAccount(t, ledger, "writer@example.com")

	const attempts = 6
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = ledger.CheckIn(ctx, acct.ID)
		}(i)
	}
	wg.Wait()

	var successes int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, credit.ErrAlreadyCheckedInToday):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful check-in, got %d", successes)
	}
}

func TestConcurrentRedeemSingleSuccess(t *testing.T) {
	ledger, _ := newTestLedger(t, credit.Config{})
	ctx := context.Background()

	if err := ledger.CreateCode(ctx, credit.Code{
		Code:      "VIP888",
		Amount:    decimal.NewFromInt(1000),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("CreateCode: %v", err)
	}

	const attempts = 4
	accounts := make([]*credit.Account, attempts)
	for i := range accounts {
		accounts[i] = mustAccount(t, ledger, "writer"+string(rune('a'+i))+"@example.com")
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = ledger.Redeem(ctx, accounts[i].ID, "VIP888")
		}(i)
	}
	wg.Wait()

	var winner = -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner != -1 {
				t.Fatalf("two successful redemptions: %d and %d", winner, i)
			}
			winner = i
		case errors.Is(err, credit.ErrInvalidOrUsedCode):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winner == -1 {
		t.Fatalf("no redemption succeeded")
	}
	bal, err := ledger.GetBalance(ctx, accounts[winner].ID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !bal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected winner balance 1000, got %s", bal)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	ledger, _ := newTestLedger(t, credit.Config{})
	acct := mustAccount(t, ledger, "writer@example.com")
	if _, _, err := ledger.Redeem(context.Background(), acct.ID, "NOPE"); !errors.Is(err, credit.ErrInvalidOrUsedCode) {
		t.Fatalf("expected ErrInvalidOrUsedCode, got %v", err)
	}
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
