// Package business holds the merchants that own wallets and the API keys
// they authenticate with.
package business

import (
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("business not found")
	ErrEmailTaken         = errors.New("business email already registered")
	ErrInvalidCredentials = errors.New("invalid business credentials")
)

// Business is a registered merchant. The plaintext API key is only ever
// returned once, from Register.
type Business struct {
	ID         string
	Name       string
	Email      string
	APIKeyHash []byte
	CreatedAt  time.Time
}

// Registration is the onboarding input.
type Registration struct {
	Name  string
	Email string
}
