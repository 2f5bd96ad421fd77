package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/pixelforge/internal/model"
)

var (
	// ErrAccountNotFound is returned when a mutation references a missing account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientCredits is returned when a decrement would take the
	// balance below zero. The decrement is rejected, not applied.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var email, customerID sql.NullString
	err := scanner.Scan(
		&a.ID, &a.ClerkID, &email, &a.Credits, &a.SubscriptionStatus,
		&customerID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Email = email.String
	if customerID.Valid {
		a.StripeCustomerID = &customerID.String
	}
	return &a, nil
}

const accountCols = `id, clerk_id, email, credits, subscription_status, stripe_customer_id, created_at, updated_at`

// Ensure creates the account for clerkID if it does not exist yet, with the
// free-tier defaults, and refreshes the stored email otherwise. The upsert is
// keyed on clerk_id so concurrent first requests for the same new user cannot
// race into duplicate rows. A collision on the email unique constraint (the
// email already belongs to a row under a different clerk id) is resolved by
// Reconcile rather than surfaced.
func (s *AccountStore) Ensure(clerkID, email string) (*model.Account, error) {
	_, err := s.db.Exec(
		`INSERT INTO accounts (clerk_id, email) VALUES (?, NULLIF(?, ''))
		 ON CONFLICT(clerk_id) DO UPDATE SET
		   email = COALESCE(NULLIF(excluded.email, ''), accounts.email),
		   updated_at = CURRENT_TIMESTAMP`,
		clerkID, email,
	)
	if err != nil {
		if isEmailConflict(err) {
			return s.Reconcile(clerkID, email)
		}
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	return s.GetByClerkID(clerkID)
}

// Reconcile is the explicit conflict-resolution path for account identity. The
// identity provider and the billing flow can both create rows for the same
// person, and the identity provider can reissue a new clerk id for an existing
// email. Precedence: the clerk id wins; a row matched only by email is
// re-pointed to the incoming clerk id, keeping its credits and subscription.
// Runs in one transaction.
func (s *AccountStore) Reconcile(clerkID, email string) (*model.Account, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	byClerk, err := getAccountTx(tx, `clerk_id = ?`, clerkID)
	if err != nil {
		return nil, err
	}

	var byEmail *model.Account
	if email != "" {
		byEmail, err = getAccountTx(tx, `email = ?`, email)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case byClerk == nil && byEmail == nil:
		if _, err := tx.Exec(
			`INSERT INTO accounts (clerk_id, email) VALUES (?, NULLIF(?, ''))`,
			clerkID, email,
		); err != nil {
			return nil, fmt.Errorf("insert account: %w", err)
		}

	case byClerk == nil:
		// Email row exists under another clerk id: re-point it.
		if _, err := tx.Exec(
			`UPDATE accounts SET clerk_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			clerkID, byEmail.ID,
		); err != nil {
			return nil, fmt.Errorf("repoint account: %w", err)
		}

	default:
		if byEmail != nil && byEmail.ID != byClerk.ID {
			// Both rows exist; the clerk-keyed row wins and absorbs the email.
			// The orphaned email row is removed with its subscription.
			if _, err := tx.Exec(`DELETE FROM subscriptions WHERE account_id = ?`, byEmail.ID); err != nil {
				return nil, fmt.Errorf("delete orphan subscription: %w", err)
			}
			if _, err := tx.Exec(`DELETE FROM accounts WHERE id = ?`, byEmail.ID); err != nil {
				return nil, fmt.Errorf("delete orphan account: %w", err)
			}
		}
		if email != "" && email != byClerk.Email {
			if _, err := tx.Exec(
				`UPDATE accounts SET email = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
				email, byClerk.ID,
			); err != nil {
				return nil, fmt.Errorf("update account email: %w", err)
			}
		}
	}

	a, err := getAccountTx(tx, `clerk_id = ?`, clerkID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

func getAccountTx(tx *sql.Tx, where string, arg any) (*model.Account, error) {
	row := tx.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE `+where, arg)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByClerkID(clerkID string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE clerk_id = ?`, clerkID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(email string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByStripeCustomerID(customerID string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE stripe_customer_id = ?`, customerID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by customer id: %w", err)
	}
	return a, nil
}

func (s *AccountStore) UpdateStripeCustomerID(id int64, customerID string) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET stripe_customer_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		customerID, id,
	)
	if err != nil {
		return fmt.Errorf("update stripe customer id: %w", err)
	}
	return nil
}

// SetPlan replaces the account's tier and credit balance with the plan values.
// The balance is an absolute set, not additive: activating a plan resets
// whatever was left of the previous allotment.
func (s *AccountStore) SetPlan(id int64, tier model.Tier, credits int64) error {
	res, err := s.db.Exec(
		`UPDATE accounts SET subscription_status = ?, credits = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		tier, credits, id,
	)
	if err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DecrementCredits spends one credit. The check and the decrement are a single
// conditional UPDATE so two concurrent requests cannot both spend the last
// credit. Returns the remaining balance.
func (s *AccountStore) DecrementCredits(clerkID string) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE accounts SET credits = credits - 1, updated_at = CURRENT_TIMESTAMP
		 WHERE clerk_id = ? AND credits > 0`,
		clerkID,
	)
	if err != nil {
		return 0, fmt.Errorf("decrement credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		a, err := s.GetByClerkID(clerkID)
		if err != nil {
			return 0, err
		}
		if a == nil {
			return 0, ErrAccountNotFound
		}
		return 0, ErrInsufficientCredits
	}

	var remaining int64
	if err := s.db.QueryRow(`SELECT credits FROM accounts WHERE clerk_id = ?`, clerkID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return remaining, nil
}

// DeleteCascade removes the account with its subscription and image records
// in one transaction. A missing account is a no-op: the identity provider
// retries deletions, and the second delivery must not fail.
func (s *AccountStore) DeleteCascade(clerkID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM subscriptions WHERE account_id IN (SELECT id FROM accounts WHERE clerk_id = ?)`,
		clerkID,
	); err != nil {
		return fmt.Errorf("delete subscriptions: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM images WHERE account_id IN (SELECT id FROM accounts WHERE clerk_id = ?)`,
		clerkID,
	); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM accounts WHERE clerk_id = ?`, clerkID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isEmailConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "accounts.email")
}
