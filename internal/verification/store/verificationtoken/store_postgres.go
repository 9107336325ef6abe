package verificationtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"partnerhub/internal/verification/models"
	id "partnerhub/pkg/domain"
	"partnerhub/pkg/platform/sentinel"
	txcontext "partnerhub/pkg/platform/tx"
)

const uniqueViolation = "23505"

const tokenColumns = `token_hash, subject_id, purpose, issued_at, expires_at, consumed_at, superseded_at`

// PostgresStore persists verification tokens in the verification_tokens table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) db(ctx context.Context) txcontext.DB {
	return txcontext.Or(ctx, s.pool)
}

// Replace supersedes the live token of the lineage and inserts the record in
// one transaction. An advisory lock on the lineage serializes concurrent
// issuance; the partial unique index backs it up.
func (s *PostgresStore) Replace(ctx context.Context, record *models.Token) error {
	err := pgx.BeginFunc(ctx, s.db(ctx), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			record.SubjectID.String()+":"+record.Purpose.String(),
		); err != nil {
			return fmt.Errorf("lock token lineage: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE verification_tokens
			SET superseded_at = $3
			WHERE subject_id = $1 AND purpose = $2
			  AND consumed_at IS NULL AND superseded_at IS NULL
		`, uuidArg(record.SubjectID), record.Purpose.String(), record.IssuedAt); err != nil {
			return fmt.Errorf("supersede tokens: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO verification_tokens (`+tokenColumns+`)
			VALUES ($1, $2, $3, $4, $5, NULL, NULL)
		`, record.Hash, uuidArg(record.SubjectID), record.Purpose.String(), record.IssuedAt, record.ExpiresAt); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("token lineage write raced: %w", sentinel.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*models.Token, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+tokenColumns+` FROM verification_tokens WHERE token_hash = $1`, hash)
	record, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("verification token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	return record, nil
}

// Consume redeems with a single conditional update. When no row matches, a
// follow-up read classifies why.
func (s *PostgresStore) Consume(ctx context.Context, hash string, now time.Time) (*models.Token, error) {
	row := s.db(ctx).QueryRow(ctx, `
		UPDATE verification_tokens
		SET consumed_at = $2
		WHERE token_hash = $1
		  AND consumed_at IS NULL
		  AND superseded_at IS NULL
		  AND expires_at >= $2
		RETURNING `+tokenColumns, hash, now)
	record, err := scanToken(row)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consume token: %w", err)
	}

	existing, err := s.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if verr := existing.ValidateForRedeem(now); verr != nil {
		return existing, translateRedeemError(verr)
	}
	// Live but not updated means the row changed between the two statements.
	return existing, fmt.Errorf("token changed during redeem: %w", sentinel.ErrAlreadyUsed)
}

func (s *PostgresStore) FindActive(ctx context.Context, subjectID id.SubjectID, purpose models.Purpose, now time.Time) (*models.Token, error) {
	row := s.db(ctx).QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM verification_tokens
		WHERE subject_id = $1 AND purpose = $2
		  AND consumed_at IS NULL AND superseded_at IS NULL
		  AND expires_at >= $3
		ORDER BY issued_at DESC
		LIMIT 1
	`, uuidArg(subjectID), purpose.String(), now)
	record, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no active verification token: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find active token: %w", err)
	}
	return record, nil
}

func scanToken(row pgx.Row) (*models.Token, error) {
	var (
		record    models.Token
		subjectID [16]byte
		purpose   string
	)
	if err := row.Scan(
		&record.Hash,
		&subjectID,
		&purpose,
		&record.IssuedAt,
		&record.ExpiresAt,
		&record.ConsumedAt,
		&record.SupersededAt,
	); err != nil {
		return nil, err
	}
	record.SubjectID = id.SubjectID(subjectID)
	record.Purpose = models.Purpose(purpose)
	return &record, nil
}

// uuidArg passes a typed id as its canonical string so pgx encodes it for the
// uuid column without a custom codec.
func uuidArg(subjectID id.SubjectID) string {
	return subjectID.String()
}
