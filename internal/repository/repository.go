// Package repository declares the storage contracts the service layer
// depends on. Concrete stores live in the sqlite and postgres sub-packages.
package repository

import (
	"context"

	"github.com/sakif/contact-identity/internal/model"
)

// ContactRepository is the typed query surface over stored contacts.
// Every query ignores rows whose DeletedAt is set.
type ContactRepository interface {
	// FindByEmailOrPhone returns contacts whose email equals email OR whose
	// phone number equals phone, for whichever of the two is non-nil.
	// Both nil is a validation error.
	FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]model.Contact, error)

	// FindByIDsOrLinkedIDs returns contacts whose id is in ids OR whose
	// linked id is in ids.
	FindByIDsOrLinkedIDs(ctx context.Context, ids []int64) ([]model.Contact, error)

	// Create inserts contact and fills in ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, contact *model.Contact) error

	// Update persists LinkPrecedence and LinkedID of an existing contact and
	// refreshes UpdatedAt. Other fields are immutable.
	Update(ctx context.Context, contact *model.Contact) error
}

// ContactTx is a ContactRepository bound to one open transaction.
type ContactTx interface {
	ContactRepository

	// Lock takes exclusive locks on the given keys for the rest of the
	// transaction. Callers must pass keys in a consistent order.
	Lock(ctx context.Context, keys ...string) error
}

// ContactStore is the long-lived store handle owned by the server.
type ContactStore interface {
	ContactRepository

	// InTx runs fn inside a transaction, committing when fn returns nil and
	// rolling back otherwise.
	InTx(ctx context.Context, fn func(tx ContactTx) error) error

	Ping(ctx context.Context) error
	Close() error
}
