// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data: plain values with no behaviour
// beyond a few small helpers. The repository layer fills them in, the service
// layer reads them, and nothing keeps a Contact alive past a single request.
package model

import "time"

// LinkPrecedence says whether a contact is the canonical record of its
// cluster ("primary") or hangs off one ("secondary").
type LinkPrecedence string

const (
	Primary   LinkPrecedence = "primary"
	Secondary LinkPrecedence = "secondary"
)

// Valid reports whether p is one of the two known precedences.
func (p LinkPrecedence) Valid() bool {
	return p == Primary || p == Secondary
}

// Contact is one stored submission of an email and/or phone number.
//
// WHY POINTERS FOR Email, PhoneNumber AND LinkedID?
// All three are nullable columns. A nil pointer means "absent", which is
// different from an empty string: two contacts without an email must never
// match each other on email. The service layer treats "" the same as nil
// before anything reaches the store.
//
// LinkedID is set if and only if LinkPrecedence is Secondary, and it always
// points at a Primary (one hop, never a chain).
type Contact struct {
	ID             int64          `json:"id"`
	Email          *string        `json:"email,omitempty"`
	PhoneNumber    *string        `json:"phoneNumber,omitempty"`
	LinkedID       *int64         `json:"linkedId,omitempty"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      *time.Time     `json:"deletedAt,omitempty"`
}

// IsPrimary reports whether c is the canonical record of its cluster.
func (c Contact) IsPrimary() bool {
	return c.LinkPrecedence == Primary
}

// EmailValue returns the email or "" when absent.
func (c Contact) EmailValue() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// PhoneValue returns the phone number or "" when absent.
func (c Contact) PhoneValue() string {
	if c.PhoneNumber == nil {
		return ""
	}
	return *c.PhoneNumber
}

// LinkedIDValue returns the linked id or 0 when the contact is not linked.
func (c Contact) LinkedIDValue() int64 {
	if c.LinkedID == nil {
		return 0
	}
	return *c.LinkedID
}

// OlderThan orders contacts by creation time, breaking exact ties on the
// lower id. This is the order in which a cluster's primary is chosen.
func (c Contact) OlderThan(other Contact) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
