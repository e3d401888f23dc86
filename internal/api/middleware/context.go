package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/google/uuid"
)

type contextKey string

const (
	keyIDKey        contextKey = "key_id"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

// SetKeyID stores the id of the authenticated API key.
func SetKeyID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyIDKey, id)
}

// GetKeyID returns the id of the API key that authenticated r.
func GetKeyID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(keyIDKey).(uuid.UUID)
	return id, ok
}

// SetKeyPrefix stores the public prefix of the authenticated key.
func SetKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// SetScopes stores the scopes granted to the authenticated key.
func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

// HasScope reports whether the authenticated key was granted scope.
func HasScope(r *http.Request, scope string) bool {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return slices.Contains(scopes, scope)
}
