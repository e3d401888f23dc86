// Package apikey mints API keys. The raw key is returned once; only its bcrypt
// hash and public prefix are kept.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

const (
	rawPrefix = "cr_"
	// PrefixLen matches the lookup prefix used by the auth middleware.
	PrefixLen = 8
)

// ErrInvalidScope is returned for a scope outside the known set.
var ErrInvalidScope = errors.New("invalid scope")

var knownScopes = []string{models.ScopeAnalyze, models.ScopeCallback, models.ScopeAdmin}

// Generator creates keys. Cost is the bcrypt cost; tests lower it.
type Generator struct {
	Cost int
	Now  func() time.Time
}

// New returns a Generator with bcrypt's default cost.
func New() *Generator {
	return &Generator{Cost: bcrypt.DefaultCost, Now: time.Now}
}

// Generate returns the raw key and the record to persist for it.
func (g *Generator) Generate(name string, scopes []string) (string, *models.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, errors.New("key name is required")
	}
	if len(scopes) == 0 {
		scopes = []string{models.ScopeAnalyze}
	}
	for _, s := range scopes {
		if !slices.Contains(knownScopes, s) {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidScope, s)
		}
	}

	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, fmt.Errorf("read random: %w", err)
	}
	raw := rawPrefix + hex.EncodeToString(secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), g.Cost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key: %w", err)
	}

	now := g.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:PrefixLen],
		Scopes:    slices.Compact(slices.Sorted(slices.Values(scopes))),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
