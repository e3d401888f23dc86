package apikey_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/codereview/internal/apikey"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

func testGenerator() *apikey.Generator {
	return &apikey.Generator{
		Cost: bcrypt.MinCost,
		Now:  func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func TestGenerate(t *testing.T) {
	raw, key, err := testGenerator().Generate("  web layer ", []string{models.ScopeCallback, models.ScopeAnalyze, models.ScopeAnalyze})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "cr_"))
	assert.Len(t, raw, 43)
	assert.Equal(t, raw[:apikey.PrefixLen], key.KeyPrefix)
	assert.Equal(t, "web layer", key.Name)
	assert.Equal(t, []string{models.ScopeAnalyze, models.ScopeCallback}, key.Scopes)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), key.CreatedAt)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)))
	assert.NotContains(t, key.KeyHash, raw)
}

func TestGenerate_DefaultScope(t *testing.T) {
	_, key, err := testGenerator().Generate("cli", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{models.ScopeAnalyze}, key.Scopes)
}

func TestGenerate_Unique(t *testing.T) {
	g := testGenerator()
	a, _, err := g.Generate("a", nil)
	require.NoError(t, err)
	b, _, err := g.Generate("b", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerate_Invalid(t *testing.T) {
	_, _, err := testGenerator().Generate("", nil)
	assert.ErrorContains(t, err, "name is required")

	_, _, err = testGenerator().Generate("x", []string{"superuser"})
	assert.ErrorIs(t, err, apikey.ErrInvalidScope)
}
