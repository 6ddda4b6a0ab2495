// Package identity keeps the people the signature workflow touches: the
// staff members who request signatures and the clients who provide them.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("person not found")

// Kind distinguishes staff from clients.
type Kind string

const (
	KindStaff  Kind = "staff"
	KindClient Kind = "client"
)

// Person is a staff member or client record.
type Person struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Kind      Kind      `json:"kind" db:"kind"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Email     string    `json:"email" db:"email"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName returns the name shown on signing pages and notifications.
func (p *Person) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Email
	}
	return name
}
