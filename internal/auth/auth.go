// Package auth holds credential hashing and the access classes assigned to
// viewer connections.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrHashing              = errors.New("password hashing failed")
)

// Class is the permission tier of a viewer connection.
type Class string

const (
	ClassOwner  Class = "owner"
	ClassGuest  Class = "guest"
	ClassViewer Class = "viewer"
)

// ParseClass maps a user_type value onto a class. Missing values default to
// guest; anything unrecognised becomes the read-only viewer class.
func ParseClass(s string) Class {
	switch s {
	case "", string(ClassGuest):
		return ClassGuest
	case string(ClassOwner):
		return ClassOwner
	default:
		return ClassViewer
	}
}

// Writable reports whether input from a connection of this class may reach
// the owner. Owners always write; guests write unless the session makes them
// read-only; everyone else is read-only.
func (c Class) Writable(guestsReadOnly bool) bool {
	switch c {
	case ClassOwner:
		return true
	case ClassGuest:
		return !guestsReadOnly
	default:
		return false
	}
}

// Hasher is the one-way password primitive.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher(cost int) BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return BcryptHasher{Cost: cost}
}

func (h BcryptHasher) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrHashing, err)
	}
	return string(hash), nil
}

func (h BcryptHasher) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// Credentials are the stored hashes of a session. Empty strings mean the
// password was not set.
type Credentials struct {
	OwnerHash      string
	GuestHash      string
	GuestsReadOnly bool
}

func (c Credentials) NeedsAuth() bool {
	return c.OwnerHash != "" || c.GuestHash != ""
}

// Result is the outcome of authenticating a supplied password.
type Result struct {
	Authenticated bool
	Class         Class
	ReadOnly      bool
}

// Authenticate resolves a password against a session's credentials. A session
// without passwords grants owner access to everyone. Otherwise the owner hash
// is tried first, then the guest hash; the first match wins.
func Authenticate(h Hasher, creds Credentials, password string) Result {
	if !creds.NeedsAuth() {
		return grant(ClassOwner, creds)
	}
	if creds.OwnerHash != "" && h.Verify(password, creds.OwnerHash) {
		return grant(ClassOwner, creds)
	}
	if creds.GuestHash != "" && h.Verify(password, creds.GuestHash) {
		return grant(ClassGuest, creds)
	}
	return Result{Authenticated: false, Class: ClassViewer, ReadOnly: true}
}

func grant(class Class, creds Credentials) Result {
	return Result{
		Authenticated: true,
		Class:         class,
		ReadOnly:      !class.Writable(creds.GuestsReadOnly),
	}
}
