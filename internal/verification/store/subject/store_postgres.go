package subject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"partnerhub/internal/verification/models"
	id "partnerhub/pkg/domain"
	"partnerhub/pkg/platform/sentinel"
	txcontext "partnerhub/pkg/platform/tx"
)

const subjectColumns = `id, email, display_name, verified_at, created_at`

// PostgresStore reads and updates the affiliates table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) db(ctx context.Context) txcontext.DB {
	return txcontext.Or(ctx, s.pool)
}

func (s *PostgresStore) Create(ctx context.Context, email, displayName string, now time.Time) (*models.Subject, error) {
	row := s.db(ctx).QueryRow(ctx, `
		INSERT INTO affiliates (id, email, display_name, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+subjectColumns, uuid.NewString(), email, displayName, now)
	subject, err := scanSubject(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("subject email already registered: %w", sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("insert subject: %w", err)
	}
	return subject, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, subjectID id.SubjectID) (*models.Subject, error) {
	return s.findOne(ctx, `SELECT `+subjectColumns+` FROM affiliates WHERE id = $1`, subjectID.String())
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.Subject, error) {
	return s.findOne(ctx, `SELECT `+subjectColumns+` FROM affiliates WHERE email = $1`, email)
}

// MarkVerified keeps the first verified_at via COALESCE.
func (s *PostgresStore) MarkVerified(ctx context.Context, subjectID id.SubjectID, now time.Time) (*models.Subject, error) {
	return s.findOne(ctx, `
		UPDATE affiliates
		SET verified_at = COALESCE(verified_at, $2)
		WHERE id = $1
		RETURNING `+subjectColumns, subjectID.String(), now)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*models.Subject, error) {
	subject, err := scanSubject(s.db(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subject not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query subject: %w", err)
	}
	return subject, nil
}

func scanSubject(row pgx.Row) (*models.Subject, error) {
	var (
		subject models.Subject
		rawID   [16]byte
	)
	if err := row.Scan(&rawID, &subject.Email, &subject.DisplayName, &subject.VerifiedAt, &subject.CreatedAt); err != nil {
		return nil, err
	}
	subject.ID = id.SubjectID(rawID)
	subject.Verified = subject.VerifiedAt != nil
	return &subject, nil
}
