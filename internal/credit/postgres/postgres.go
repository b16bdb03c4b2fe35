package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loreweave/loreweave-engine/internal/credit"
	"github.com/shopspring/decimal"
)

// Store implements credit.Store backed by PostgreSQL. Amounts are stored
// as integer ten-thousandths of a credit, same as the SQLite backend.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes, idleTimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}
	if idleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeMinutes) * time.Minute)
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
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	timezone TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	last_check_in TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id BIGSERIAL PRIMARY KEY,
	account_id UUID NOT NULL,
	amount_e4 BIGINT NOT NULL,
	reason TEXT NOT NULL CHECK(reason IN ('generation','check_in','redeem','admin_grant','refund')),
	detail TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_created ON ledger_entries(account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS redeem_codes (
	code TEXT PRIMARY KEY,
	amount_e4 BIGINT NOT NULL,
	used BOOLEAN NOT NULL DEFAULT FALSE,
	used_by UUID,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO accounts(id, email, status, created_at)
VALUES($1, $2, $3, NOW())
ON CONFLICT (email) DO NOTHING`, id, email, string(credit.AccountActive))
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, timezone, status, last_check_in, created_at FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// GetAccount returns the account or credit.ErrAccountNotFound.
func (s *Store) GetAccount(ctx context.Context, id string) (*credit.Account, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, timezone, status, last_check_in, created_at FROM accounts WHERE id = $1`, id)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credit.ErrAccountNotFound
		}
		return nil, err
	}
	return acct, nil
}

func scanAccount(row *sql.Row) (*credit.Account, error) {
	var acct credit.Account
	var status string
	var lastCheckIn sql.NullTime
	if err := row.Scan(&acct.ID, &acct.Email, &acct.Timezone, &status, &lastCheckIn, &acct.CreatedAt); err != nil {
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
	if entry.AccountID == "" {
		return credit.Entry{}, errors.New("ledger entry requires account id")
	}
	if !entry.Reason.Valid() {
		return credit.Entry{}, fmt.Errorf("invalid reason %q", entry.Reason)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
INSERT INTO ledger_entries(account_id, amount_e4, reason, detail, created_at)
VALUES($1, $2, $3, $4, $5)
RETURNING id`,
		entry.AccountID, encodeAmount(entry.Amount), string(entry.Reason), entry.Detail, entry.CreatedAt,
	).Scan(&entry.ID)
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
SELECT COALESCE(SUM(amount_e4), 0) FROM ledger_entries WHERE account_id = $1`, accountID)
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
WHERE account_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, accountID, limit, offset)
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
	if entry.AccountID == "" {
		return credit.Entry{}, errors.New("ledger entry requires account id")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return credit.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE accounts SET last_check_in = $1 WHERE id = $2`,
		checkedInAt, entry.AccountID)
	if err != nil {
		return credit.Entry{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return credit.Entry{}, err
	} else if n == 0 {
		return credit.Entry{}, credit.ErrAccountNotFound
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO ledger_entries(account_id, amount_e4, reason, detail, created_at)
VALUES($1, $2, $3, $4, $5)
RETURNING id`,
		entry.AccountID, encodeAmount(entry.Amount), string(entry.Reason), entry.Detail, entry.CreatedAt,
	).Scan(&entry.ID)
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
	_, err := s.db.ExecContext(ctx, `
INSERT INTO redeem_codes(code, amount_e4, used, expires_at, created_at)
VALUES($1, $2, FALSE, $3, $4)`,
		code.Code, encodeAmount(code.Amount), code.ExpiresAt, code.CreatedAt)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate key") {
		return credit.ErrCodeExists
	}
	return err
}

// GetCode returns the code record, or nil when unknown.
func (s *Store) GetCode(ctx context.Context, code string) (*credit.Code, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT code, amount_e4, used, used_by, expires_at, created_at FROM redeem_codes WHERE code = $1`, code)
	var rec credit.Code
	var amountE4 int64
	var usedBy sql.NullString
	err := row.Scan(&rec.Code, &amountE4, &rec.Used, &usedBy, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Amount = decodeAmount(amountE4)
	if usedBy.Valid {
		v := usedBy.String
		rec.UsedBy = &v
	}
	return &rec, nil
}

// Redeem flips the code to used and appends the credit entry in one
// transaction; zero affected rows means invalid, used, or expired.
func (s *Store) Redeem(ctx context.Context, code string, entry credit.Entry, now time.Time) (credit.Entry, error) {
	if entry.AccountID == "" {
		return credit.Entry{}, errors.New("ledger entry requires account id")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return credit.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE redeem_codes SET used = TRUE, used_by = $1
WHERE code = $2 AND used = FALSE AND expires_at > $3`,
		entry.AccountID, code, now)
	if err != nil {
		return credit.Entry{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return credit.Entry{}, err
	} else if n == 0 {
		return credit.Entry{}, credit.ErrInvalidOrUsedCode
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO ledger_entries(account_id, amount_e4, reason, detail, created_at)
VALUES($1, $2, $3, $4, $5)
RETURNING id`,
		entry.AccountID, encodeAmount(entry.Amount), string(entry.Reason), entry.Detail, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return credit.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return credit.Entry{}, err
	}
	return entry, nil
}

func encodeAmount(d decimal.Decimal) int64 {
	return d.Shift(credit.Places).IntPart()
}

func decodeAmount(e4 int64) decimal.Decimal {
	return decimal.New(e4, -credit.Places)
}
