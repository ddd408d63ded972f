package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/sakif/contact-identity/internal/apperror"
	"github.com/sakif/contact-identity/internal/model"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type contactQueries struct {
	q   querier
	now func() time.Time
}

const contactColumns = `id, email, phone_number, linked_id, link_precedence, created_at, updated_at, deleted_at`

func (c contactQueries) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]model.Contact, error) {
	var where string
	var args []any
	switch {
	case email != nil && phone != nil:
		where = "(email = $1 OR phone_number = $2)"
		args = []any{*email, *phone}
	case email != nil:
		where = "email = $1"
		args = []any{*email}
	case phone != nil:
		where = "phone_number = $1"
		args = []any{*phone}
	default:
		return nil, apperror.ValidationFailed("email", "email or phoneNumber is required")
	}

	contacts, err := c.query(ctx,
		`SELECT `+contactColumns+` FROM contacts
		 WHERE `+where+` AND deleted_at IS NULL
		 ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: finding contacts by email or phone: %w", err)
	}
	return contacts, nil
}

func (c contactQueries) FindByIDsOrLinkedIDs(ctx context.Context, ids []int64) ([]model.Contact, error) {
	if len(ids) == 0 {
		return []model.Contact{}, nil
	}

	contacts, err := c.query(ctx,
		`SELECT `+contactColumns+` FROM contacts
		 WHERE (id = ANY($1) OR linked_id = ANY($1)) AND deleted_at IS NULL
		 ORDER BY id`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: finding contacts by ids %v: %w", ids, err)
	}
	return contacts, nil
}

func (c contactQueries) Create(ctx context.Context, contact *model.Contact) error {
	if contact.Email == nil && contact.PhoneNumber == nil {
		return apperror.ValidationFailed("email", "a contact needs an email or a phone number")
	}
	if contact.LinkPrecedence == "" {
		contact.LinkPrecedence = model.Primary
	}
	if !contact.LinkPrecedence.Valid() {
		return apperror.ValidationFailed("linkPrecedence",
			fmt.Sprintf("unknown link precedence %q", contact.LinkPrecedence))
	}

	now := c.now().UTC().Truncate(time.Microsecond)
	contact.CreatedAt = now
	contact.UpdatedAt = now

	err := c.q.QueryRowContext(ctx,
		`INSERT INTO contacts (email, phone_number, linked_id, link_precedence, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		contact.Email,
		contact.PhoneNumber,
		contact.LinkedID,
		string(contact.LinkPrecedence),
		contact.CreatedAt,
		contact.UpdatedAt,
	).Scan(&contact.ID)
	if err != nil {
		return fmt.Errorf("postgres: creating contact: %w", err)
	}
	return nil
}

func (c contactQueries) Update(ctx context.Context, contact *model.Contact) error {
	if !contact.LinkPrecedence.Valid() {
		return apperror.ValidationFailed("linkPrecedence",
			fmt.Sprintf("unknown link precedence %q", contact.LinkPrecedence))
	}

	contact.UpdatedAt = c.now().UTC().Truncate(time.Microsecond)

	result, err := c.q.ExecContext(ctx,
		`UPDATE contacts
		 SET link_precedence = $1, linked_id = $2, updated_at = $3
		 WHERE id = $4 AND deleted_at IS NULL`,
		string(contact.LinkPrecedence),
		contact.LinkedID,
		contact.UpdatedAt,
		contact.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating contact %d: %w", contact.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("contact", strconv.FormatInt(contact.ID, 10))
	}
	return nil
}

func (c contactQueries) query(ctx context.Context, query string, args ...any) ([]model.Contact, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := make([]model.Contact, 0)
	for rows.Next() {
		var (
			contact    model.Contact
			email      sql.NullString
			phone      sql.NullString
			linkedID   sql.NullInt64
			precedence string
			deletedAt  sql.NullTime
		)
		if err := rows.Scan(
			&contact.ID, &email, &phone, &linkedID, &precedence,
			&contact.CreatedAt, &contact.UpdatedAt, &deletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		if email.Valid {
			contact.Email = &email.String
		}
		if phone.Valid {
			contact.PhoneNumber = &phone.String
		}
		if linkedID.Valid {
			contact.LinkedID = &linkedID.Int64
		}
		if deletedAt.Valid {
			t := deletedAt.Time.UTC()
			contact.DeletedAt = &t
		}
		contact.LinkPrecedence = model.LinkPrecedence(precedence)
		contact.CreatedAt = contact.CreatedAt.UTC()
		contact.UpdatedAt = contact.UpdatedAt.UTC()
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contacts: %w", err)
	}
	return contacts, nil
}
