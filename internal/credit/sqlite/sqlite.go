package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/loreweave/loreweave-engine/internal/credit"
	"github.com/shopspring/decimal"
)

// Store implements credit.Store backed by SQLite.
//
// Amounts are persisted as integer ten-thousandths of a credit
// (amount_e4), which keeps SUM() exact: every committed amount carries at
// most credit.Places decimal places.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	timezone TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	last_check_in TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	amount_e4 INTEGER NOT NULL,
	reason TEXT NOT NULL CHECK(reason IN ('generation','check_in','redeem','admin_grant','refund')),
	detail TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_created ON ledger_entries(account_id, created_at DESC);
CREATE TABLE IF NOT EXISTS redeem_codes (
	code TEXT PRIMARY KEY,
	amount_e4 INTEGER NOT NULL,
	used INTEGER NOT NULL DEFAULT 0,
	used_by TEXT,
	expires_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureAccount finds or creates the account for the given email.
func (s *Store) EnsureAccount(ctx context.Context, email string) (*credit.Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, errors.New("email required")
	}
	if acct, err := s.findByEmail(ctx, email); err != nil {
		return nil, err
	} else if acct != nil {
		return acct, nil
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO accounts(id, email, status, created_at) VALUES(?, ?, ?, ?)`,
		id, email, string(credit.AccountActive), now)
	if err != nil {
		// Lost a concurrent insert race: the unique email row now exists.
		if acct, ferr := s.findByEmail(ctx, email); ferr == nil && acct != nil {
			return acct, nil
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) findByEmail(ctx context.Context, email string) (*credit.Account, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, timezone, status, last_check_in, created_at FROM accounts WHERE email = ?`, email)
	return scanAccount(row)
}

// GetAccount returns the account or credit.ErrAccountNotFound.
func (s *Store) GetAccount(ctx context.Context, id string) (*credit.Account, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, timezone, status, last_check_in, created_at FROM accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, credit.ErrAccountNotFound
	}
	return acct, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*credit.Account, error) {
	var acct credit.Account
	var status string
	var lastCheckIn sql.NullTime
	err := row.Scan(&acct.ID, &acct.Email, &acct.Timezone, &status, &lastCheckIn, &acct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	acct.Status = credit.AccountStatus(status)
	if lastCheckIn.Valid {
		t := lastCheckIn.Time
		acct.LastCheckIn = &t
	}
	return &acct, nil
}

// Append inserts a new ledger entry.
func (s *Store) Append(ctx context.Context, entry credit.Entry) (credit.Entry, error) {
	if err := validateEntry(entry); err != nil {
		return credit.Entry{}, err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_entries(account_id, amount_e4, reason, detail, created_at)
VALUES(?, ?, ?, ?, ?)`,
		entry.AccountID, encodeAmount(entry.Amount), string(entry.Reason), entry.Detail, entry.CreatedAt)
	if err != nil {
		return credit.Entry{}, err
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return credit.Entry{}, err
	}
	return entry, nil
}

// Sum returns the exact running sum of all entries for an account.
func (s *Store) Sum(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if accountID == "" {
		return decimal.Zero, errors.New("account id required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(amount_e4), 0) FROM ledger_entries WHERE account_id = ?`, accountID)
	var sum sql.NullInt64
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return decodeAmount(sum.Int64), nil
}

// List returns entries newest-first with limit/offset pagination.
func (s *Store) List(ctx context.Context, accountID string, limit, offset int) ([]credit.Entry, error) {
	if accountID == "" {
		return nil, errors.New("account id required")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, amount_e4, reason, detail, created_at
FROM ledger_entries
WHERE account_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []credit.Entry
	for rows.Next() {
		var e credit.Entry
		var amountE4 int64
		var reason string
		if err := rows.Scan(&e.ID, &e.AccountID, &amountE4, &reason, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount = decodeAmount(amountE4)
		e.Reason = credit.Reason(reason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordCheckIn appends the check-in entry and advances last_check_in in
// one transaction.
func (s *Store) RecordCheckIn(ctx context.Context, entry credit.Entry, checkedInAt time.Time) (credit.Entry, error) {
	if err := validateEntry(entry); err != nil {
		return credit.Entry{}, err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return credit.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE accounts SET last_check_in = ? WHERE id = ?`,
		checkedInAt, entry.AccountID)
	if err != nil {
		return credit.Entry{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return credit.Entry{}, err
	} else if n == 0 {
		return credit.Entry{}, credit.ErrAccountNotFound
	}
	res, err = tx.ExecContext(ctx, `
INSERT INTO ledger_entries(account_id, amount_e4, reason, detail, created_at)
VALUES(?, ?, ?, ?, ?)`,
		entry.AccountID, encodeAmount(entry.Amount), string(entry.Reason), entry.Detail, entry.CreatedAt)
	if err != nil {
		return credit.Entry{}, err
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return credit.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return credit.Entry{}, err
	}
	return entry, nil
}

// CreateCode registers a redeem code.
func (s *Store) CreateCode(ctx context.Context, code credit.Code) error {
	if strings.TrimSpace(code.Code) == "" {
		return errors.New("code required")
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	// Timestamps are stored in UTC so the expiry comparison in Redeem
	// compares like with like regardless of the caller's zone.
	_, err := s.db.ExecContext(ctx, `
INSERT INTO redeem_codes(code, amount_e4, used, expires_at, created_at)
VALUES(?, ?, 0, ?, ?)`,
		code.Code, encodeAmount(code.Amount), code.ExpiresAt.UTC(), code.CreatedAt.UTC())
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return credit.ErrCodeExists
	}
	return err
}

// GetCode returns the code record, or nil when unknown.
func (s *Store) GetCode(ctx context.Context, code string) (*credit.Code, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT code, amount_e4, used, used_by, expires_at, created_at FROM redeem_codes WHERE code = ?`, code)
	var rec credit.Code
	var amountE4 int64
	var used int
	var usedBy sql.NullString
	err := row.Scan(&rec.Code, &amountE4, &used, &usedBy, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Amount = decodeAmount(amountE4)
	rec.Used = used != 0
	if usedBy.Valid {
		v := usedBy.String
		rec.UsedBy = &v
	}
	return &rec, nil
}

// Redeem flips the code to used and appends the credit entry in one
// transaction. The conditional UPDATE is the arbiter: zero affected rows
// means the code is missing, used, or expired, and nothing is written.
func (s *Store) Redeem(ctx context.Context, code string, entry credit.Entry, now time.Time) (credit.Entry, error) {
	if err := validateEntry(entry); err != nil {
		return credit.Entry{}, err
	}
	now = now.UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return credit.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE redeem_codes SET used = 1, used_by = ?
WHERE code = ? AND used = 0 AND expires_at > ?`,
		entry.AccountID, code, now)
	if err != nil {
		return credit.Entry{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return credit.Entry{}, err
	} else if n == 0 {
		return credit.Entry{}, credit.ErrInvalidOrUsedCode
	}
	res, err = tx.ExecContext(ctx, `
INSERT INTO ledger_entries(account_id, amount_e4, reason, detail, created_at)
VALUES(?, ?, ?, ?, ?)`,
		entry.AccountID, encodeAmount(entry.Amount), string(entry.Reason), entry.Detail, entry.CreatedAt)
	if err != nil {
		return credit.Entry{}, err
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return credit.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return credit.Entry{}, err
	}
	return entry, nil
}

func validateEntry(entry credit.Entry) error {
	if entry.AccountID == "" {
		return errors.New("ledger entry requires account id")
	}
	if !entry.Reason.Valid() {
		return fmt.Errorf("invalid reason %q", entry.Reason)
	}
	return nil
}

func encodeAmount(d decimal.Decimal) int64 {
	return d.Shift(credit.Places).IntPart()
}

func decodeAmount(e4 int64) decimal.Decimal {
	return decimal.New(e4, -credit.Places)
}
