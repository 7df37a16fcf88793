package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL account repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
	}
}

// Create stores a new account. Unique violations on username or email map
// to ErrDuplicateUsername / ErrDuplicateEmail.
func (r *PostgresRepository) Create(ctx context.Context, acct *Account, passwordHash string) error {
	query := `
		INSERT INTO accounts (
			id, username, email, password_hash, active, auto_approved, roles, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}

	roles := acct.Roles
	if roles == nil {
		roles = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		acct.ID,
		strings.ToLower(acct.Username),
		strings.ToLower(acct.Email),
		passwordHash,
		acct.Active,
		acct.AutoApproved,
		roles,
		acct.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "email") {
				return ErrDuplicateEmail
			}
			return ErrDuplicateUsername
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// FindByID returns the account with the given id
func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `
		SELECT id, username, email, active, auto_approved, roles, created_at
		FROM accounts
		WHERE id = $1
	`
	return r.scanAccount(r.pool.QueryRow(ctx, query, id))
}

// FindByUsername returns the account with the given username
func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*Account, error) {
	query := `
		SELECT id, username, email, active, auto_approved, roles, created_at
		FROM accounts
		WHERE username = $1
	`
	return r.scanAccount(r.pool.QueryRow(ctx, query, strings.ToLower(username)))
}

func (r *PostgresRepository) scanAccount(row pgx.Row) (*Account, error) {
	acct := &Account{}
	var email sql.NullString

	err := row.Scan(
		&acct.ID,
		&acct.Username,
		&email,
		&acct.Active,
		&acct.AutoApproved,
		&acct.Roles,
		&acct.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if email.Valid {
		acct.Email = email.String
	}

	return acct, nil
}

// SetAttribute stores or replaces a named attribute
func (r *PostgresRepository) SetAttribute(ctx context.Context, accountID uuid.UUID, name, value string) error {
	query := `
		INSERT INTO account_attributes (account_id, name, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, name) DO UPDATE SET value = EXCLUDED.value
	`

	_, err := r.pool.Exec(ctx, query, accountID, name, value)
	if err != nil {
		return fmt.Errorf("failed to set account attribute: %w", err)
	}

	return nil
}

// GetAttribute returns the attribute value
func (r *PostgresRepository) GetAttribute(ctx context.Context, accountID uuid.UUID, name string) (string, error) {
	query := `SELECT value FROM account_attributes WHERE account_id = $1 AND name = $2`

	var value string
	err := r.pool.QueryRow(ctx, query, accountID, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrAttributeNotFound
		}
		return "", fmt.Errorf("failed to get account attribute: %w", err)
	}

	return value, nil
}
