package linkage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code for unique constraint violations
const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL. The
// external_auth_records table carries a UNIQUE (provider, external_id)
// constraint; Insert maps its violation to ErrDuplicateLinkage.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL linkage repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
	}
}

// FindByProviderAndExternalID returns the record for the pair
func (r *PostgresRepository) FindByProviderAndExternalID(ctx context.Context, provider, externalID string) (*Record, error) {
	query := `
		SELECT id, account_id, provider, external_id, external_display_name,
			oauth_token, oauth_access_token, created_at
		FROM external_auth_records
		WHERE provider = $1 AND external_id = $2
	`

	record := &Record{}
	var displayName sql.NullString

	err := r.pool.QueryRow(ctx, query, provider, externalID).Scan(
		&record.ID,
		&record.AccountID,
		&record.Provider,
		&record.ExternalID,
		&displayName,
		&record.OAuthToken,
		&record.OAuthAccessToken,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkageNotFound
		}
		return nil, fmt.Errorf("failed to get linkage record: %w", err)
	}

	if displayName.Valid {
		record.ExternalDisplayName = displayName.String
	}

	return record, nil
}

// Insert stores a new record, failing on a duplicate pair
func (r *PostgresRepository) Insert(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO external_auth_records (
			id, account_id, provider, external_id, external_display_name,
			oauth_token, oauth_access_token, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	id := record.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var displayName sql.NullString
	if record.ExternalDisplayName != "" {
		displayName = sql.NullString{String: record.ExternalDisplayName, Valid: true}
	}

	_, err := r.pool.Exec(ctx, query,
		id,
		record.AccountID,
		record.Provider,
		record.ExternalID,
		displayName,
		record.OAuthToken,
		record.OAuthAccessToken,
		createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateLinkage
		}
		return fmt.Errorf("failed to insert linkage record: %w", err)
	}

	record.ID = id
	record.CreatedAt = createdAt
	return nil
}

// DeleteByAccountID removes all records bound to the account
func (r *PostgresRepository) DeleteByAccountID(ctx context.Context, accountID uuid.UUID) error {
	query := `DELETE FROM external_auth_records WHERE account_id = $1`

	_, err := r.pool.Exec(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete linkage records: %w", err)
	}

	return nil
}

// CountByProvider returns the number of records for a provider
func (r *PostgresRepository) CountByProvider(ctx context.Context, provider string) (int64, error) {
	query := `SELECT COUNT(*) FROM external_auth_records WHERE provider = $1`

	var count int64
	err := r.pool.QueryRow(ctx, query, provider).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count linkage records: %w", err)
	}

	return count, nil
}
