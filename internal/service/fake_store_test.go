package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sakif/contact-identity/internal/apperror"
	"github.com/sakif/contact-identity/internal/model"
	"github.com/sakif/contact-identity/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================

// fakeStore is an in-memory repository.ContactStore.
//
// InTx holds txMu for the whole transaction and restores a snapshot when fn
// fails, which is enough to check rollback behaviour. Every Lock call is
// recorded so tests can assert which keys were taken and in what order.
type fakeStore struct {
	txMu sync.Mutex

	contacts map[int64]model.Contact
	nextID   int64
	clock    time.Time

	locks [][]string

	// set to a non-nil error to simulate a database failure
	findErr   error
	createErr error
	updateErr error
	lockErr   error
}

var _ repository.ContactStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		contacts: make(map[int64]model.Contact),
		nextID:   1,
		clock:    time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

// seed stores c exactly as given (ID and timestamps included). Use it to
// set up clusters, including ones the resolver itself would never produce.
func (f *fakeStore) seed(c model.Contact) model.Contact {
	if c.ID == 0 {
		c.ID = f.nextID
	}
	if c.ID >= f.nextID {
		f.nextID = c.ID + 1
	}
	if c.LinkPrecedence == "" {
		c.LinkPrecedence = model.Primary
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = f.tick()
	}
	c.UpdatedAt = c.CreatedAt
	f.contacts[c.ID] = c
	return c
}

// tick returns the fake clock and advances it by one second.
func (f *fakeStore) tick() time.Time {
	now := f.clock
	f.clock = f.clock.Add(time.Second)
	return now
}

func (f *fakeStore) get(id int64) model.Contact {
	return f.contacts[id]
}

func (f *fakeStore) live() []model.Contact {
	out := make([]model.Contact, 0, len(f.contacts))
	for _, c := range f.contacts {
		if c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]model.Contact, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if email == nil && phone == nil {
		return nil, apperror.ValidationFailed("email", "email or phoneNumber is required")
	}
	out := make([]model.Contact, 0)
	for _, c := range f.live() {
		if (email != nil && c.Email != nil && *c.Email == *email) ||
			(phone != nil && c.PhoneNumber != nil && *c.PhoneNumber == *phone) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) FindByIDsOrLinkedIDs(ctx context.Context, ids []int64) ([]model.Contact, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]model.Contact, 0)
	for _, c := range f.live() {
		if want[c.ID] || (c.LinkedID != nil && want[*c.LinkedID]) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) Create(ctx context.Context, contact *model.Contact) error {
	if f.createErr != nil {
		return f.createErr
	}
	if contact.Email == nil && contact.PhoneNumber == nil {
		return apperror.ValidationFailed("email", "a contact needs an email or a phone number")
	}
	if contact.LinkPrecedence == "" {
		contact.LinkPrecedence = model.Primary
	}
	contact.ID = f.nextID
	f.nextID++
	contact.CreatedAt = f.tick()
	contact.UpdatedAt = contact.CreatedAt
	f.contacts[contact.ID] = *contact
	return nil
}

func (f *fakeStore) Update(ctx context.Context, contact *model.Contact) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.contacts[contact.ID]
	if !ok || stored.DeletedAt != nil {
		return apperror.NotFound("contact", strconv.FormatInt(contact.ID, 10))
	}
	stored.LinkPrecedence = contact.LinkPrecedence
	stored.LinkedID = contact.LinkedID
	stored.UpdatedAt = f.tick()
	contact.UpdatedAt = stored.UpdatedAt
	f.contacts[contact.ID] = stored
	return nil
}

func (f *fakeStore) InTx(ctx context.Context, fn func(tx repository.ContactTx) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	snapshot := make(map[int64]model.Contact, len(f.contacts))
	for id, c := range f.contacts {
		snapshot[id] = c
	}
	nextID := f.nextID

	if err := fn(&fakeTx{fakeStore: f}); err != nil {
		f.contacts = snapshot
		f.nextID = nextID
		return err
	}
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

type fakeTx struct {
	*fakeStore
}

func (t *fakeTx) Lock(ctx context.Context, keys ...string) error {
	if t.lockErr != nil {
		return t.lockErr
	}
	t.locks = append(t.locks, append([]string(nil), keys...))
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

var errBoom = errors.New("boom")

func newTestResolver(store repository.ContactStore) *Resolver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(store, logger)
}

func strPtr(s string) *string { return &s }

func primary(id int64, email, phone string, at time.Time) model.Contact {
	return model.Contact{
		ID:             id,
		Email:          model.StringPtr(email),
		PhoneNumber:    model.StringPtr(phone),
		LinkPrecedence: model.Primary,
		CreatedAt:      at,
	}
}

func secondary(id int64, email, phone string, linkedID int64, at time.Time) model.Contact {
	return model.Contact{
		ID:             id,
		Email:          model.StringPtr(email),
		PhoneNumber:    model.StringPtr(phone),
		LinkedID:       model.Int64Ptr(linkedID),
		LinkPrecedence: model.Secondary,
		CreatedAt:      at,
	}
}
