package business

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyPrefix = "sk_live_"

// Service manages business onboarding and API key checks.
type Service struct {
	repo Repository
	cost int
}

// NewService creates a business service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost}
}

// Register creates a business and returns its API key in plaintext. Only the
// bcrypt hash of the key is stored.
func (s *Service) Register(ctx context.Context, reg Registration) (Business, string, error) {
	name := strings.TrimSpace(reg.Name)
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	if name == "" || email == "" {
		return Business{}, "", errors.New("name and email are required")
	}

	key, err := newAPIKey()
	if err != nil {
		return Business{}, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), s.cost)
	if err != nil {
		return Business{}, "", err
	}

	b := Business{
		ID:         uuid.NewString(),
		Name:       name,
		Email:      email,
		APIKeyHash: hash,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return Business{}, "", err
	}
	return b, key, nil
}

// Get fetches a business by id.
func (s *Service) Get(ctx context.Context, id string) (Business, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Business{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Authenticate checks apiKey against the stored hash for id. Unknown ids and
// wrong keys are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, id, apiKey string) (Business, error) {
	if id == "" || apiKey == "" {
		return Business{}, ErrInvalidCredentials
	}
	b, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Business{}, ErrInvalidCredentials
	}
	if err != nil {
		return Business{}, err
	}
	if err := bcrypt.CompareHashAndPassword(b.APIKeyHash, []byte(apiKey)); err != nil {
		return Business{}, ErrInvalidCredentials
	}
	return b, nil
}

func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}
