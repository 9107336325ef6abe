package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	id "partnerhub/pkg/domain"
	audit "partnerhub/pkg/platform/audit"
	txcontext "partnerhub/pkg/platform/tx"
)

// Store implements audit.Store on the audit_events table. Appends join the
// caller's transaction when one is in the context, so a compliance event
// commits together with the change it records.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) db(ctx context.Context) txcontext.DB {
	return txcontext.Or(ctx, s.pool)
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		// eventCategories is the source of truth
		category = audit.AuditEvent(event.Action).Category()
	}

	var subjectID *string
	if !event.SubjectID.IsNil() {
		sid := event.SubjectID.String()
		subjectID = &sid
	}

	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO audit_events (
			id, category, action, subject_id, subject,
			email, reason, request_id, client_ip, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		uuid.NewString(),
		string(category),
		event.Action,
		subjectID,
		event.Subject,
		event.Email,
		event.Reason,
		event.RequestID,
		event.ClientIP,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns a subject's events, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]audit.Event, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT category, action, subject, email, reason, request_id, client_ip, occurred_at
		FROM audit_events
		WHERE subject_id = $1
		ORDER BY occurred_at ASC
	`, subjectID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			category string
			event    audit.Event
		)
		if err := rows.Scan(
			&category,
			&event.Action,
			&event.Subject,
			&event.Email,
			&event.Reason,
			&event.RequestID,
			&event.ClientIP,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.SubjectID = subjectID
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
