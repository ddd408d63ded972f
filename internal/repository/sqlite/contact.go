package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/contact-identity/internal/apperror"
	"github.com/sakif/contact-identity/internal/model"
)

// querier is the subset of *sql.DB and *sql.Tx the contact queries need,
// so the same code runs inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// contactQueries implements repository.ContactRepository on top of a querier.
type contactQueries struct {
	q   querier
	now func() time.Time
}

const contactColumns = `id, email, phone_number, linked_id, link_precedence, created_at, updated_at, deleted_at`

// FindByEmailOrPhone returns the live contacts sharing the email OR the phone.
//
// Only the supplied keys take part in the WHERE clause. Binding a nil email
// as "email = NULL" would simply never match, but leaving it out keeps the
// query plan on the right index.
func (c contactQueries) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]model.Contact, error) {
	var (
		conds []string
		args  []any
	)
	if email != nil {
		conds = append(conds, "email = ?")
		args = append(args, *email)
	}
	if phone != nil {
		conds = append(conds, "phone_number = ?")
		args = append(args, *phone)
	}
	if len(conds) == 0 {
		return nil, apperror.ValidationFailed("email", "email or phoneNumber is required")
	}

	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE (` + strings.Join(conds, " OR ") + `) AND deleted_at IS NULL
		ORDER BY id`

	contacts, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding contacts by email or phone: %w", err)
	}
	return contacts, nil
}

// FindByIDsOrLinkedIDs returns the live contacts that are one of ids or link
// to one of them. An empty ids slice returns nothing without a round trip.
func (c contactQueries) FindByIDsOrLinkedIDs(ctx context.Context, ids []int64) ([]model.Contact, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []model.Contact{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, 2*len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}

	query := `SELECT ` + contactColumns + `
		FROM contacts
		WHERE (id IN (` + placeholders + `) OR linked_id IN (` + placeholders + `))
		  AND deleted_at IS NULL
		ORDER BY id`

	contacts, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding contacts by ids %v: %w", ids, err)
	}
	return contacts, nil
}

// Create inserts a new contact.
//
// The caller's struct is filled in place (pointer argument) with the id
// SQLite assigned and the timestamps we wrote.
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

	now := c.now().UTC()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	result, err := c.q.ExecContext(ctx,
		`INSERT INTO contacts (email, phone_number, linked_id, link_precedence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nullString(contact.Email),
		nullString(contact.PhoneNumber),
		nullInt64(contact.LinkedID),
		string(contact.LinkPrecedence),
		now.UnixNano(),
		now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating contact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new contact id: %w", err)
	}
	contact.ID = id
	return nil
}

// Update persists the link fields of an existing contact.
//
// Only link_precedence, linked_id and updated_at change. Email, phone and
// created_at are immutable once written. Zero rows affected means the id is
// unknown or soft-deleted.
func (c contactQueries) Update(ctx context.Context, contact *model.Contact) error {
	if !contact.LinkPrecedence.Valid() {
		return apperror.ValidationFailed("linkPrecedence",
			fmt.Sprintf("unknown link precedence %q", contact.LinkPrecedence))
	}

	contact.UpdatedAt = c.now().UTC()

	result, err := c.q.ExecContext(ctx,
		`UPDATE contacts
		 SET link_precedence = ?, linked_id = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		string(contact.LinkPrecedence),
		nullInt64(contact.LinkedID),
		contact.UpdatedAt.UnixNano(),
		contact.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating contact %d: %w", contact.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("contact", strconv.FormatInt(contact.ID, 10))
	}
	return nil
}

// query runs a SELECT of contactColumns and scans every row.
func (c contactQueries) query(ctx context.Context, query string, args ...any) ([]model.Contact, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := make([]model.Contact, 0)
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contacts: %w", err)
	}
	return contacts, nil
}

// scanContact reads one row selected with contactColumns.
// Nullable columns go through sql.Null* and become nil pointers.
func scanContact(rows *sql.Rows) (model.Contact, error) {
	var (
		contact    model.Contact
		email      sql.NullString
		phone      sql.NullString
		linkedID   sql.NullInt64
		precedence string
		createdAt  int64
		updatedAt  int64
		deletedAt  sql.NullInt64
	)
	if err := rows.Scan(
		&contact.ID, &email, &phone, &linkedID, &precedence,
		&createdAt, &updatedAt, &deletedAt,
	); err != nil {
		return model.Contact{}, err
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
	contact.LinkPrecedence = model.LinkPrecedence(precedence)
	contact.CreatedAt = time.Unix(0, createdAt).UTC()
	contact.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if deletedAt.Valid {
		t := time.Unix(0, deletedAt.Int64).UTC()
		contact.DeletedAt = &t
	}
	return contact, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// uniqueIDs drops duplicates while keeping first-seen order.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
