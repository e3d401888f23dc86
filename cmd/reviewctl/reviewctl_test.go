package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

const vulnerable = `package db

// Find loads a user.
func Find(userId string) {
	query = "SELECT * FROM users WHERE id = " + userId
	run(query)
}
`

func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	a := &app{out: &out}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err != nil {
		return err.Error(), exitUsageError
	}
	return out.String(), a.exitCode
}

func localEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FUNCTIONS_BACKEND", "mock")
	t.Setenv("RATE_LIMIT_DELAY", "1ms")
	t.Setenv("BASE_DELAY", "1ms")
}

func TestCollectFiles(t *testing.T) {
	dir := writeTree(t, map[string][]byte{
		"db/find.go":           []byte(vulnerable),
		"web/app.TS":           []byte("export const x = 1"),
		".git/config":          []byte("[core]"),
		"node_modules/x/i.js":  []byte("module.exports = {}"),
		"assets/logo.png":      {0x89, 0x50, 0x4e, 0x47, 0xff, 0xfe},
		"empty.txt":            {},
		"big.sql":              bytes.Repeat([]byte("a"), 2048),
		".env":                 []byte("SECRET=1"),
	})

	files, err := collectFiles(dir, 1024)
	require.NoError(t, err)

	byPath := map[string]models.File{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	assert.Len(t, byPath, 2)
	assert.Equal(t, "go", byPath["db/find.go"].Language)
	assert.Equal(t, "find.go", byPath["db/find.go"].Name)
	assert.Equal(t, "typescript", byPath["web/app.TS"].Language)
}

func TestAnalyze_JSONReport(t *testing.T) {
	localEnv(t)
	dir := writeTree(t, map[string][]byte{"db/find.go": []byte(vulnerable)})

	out, code := runCLI(t, "analyze", dir, "--format", "json", "--repository", "acme/shop")
	require.Equal(t, exitSuccess, code, out)

	var report struct {
		Result models.AnalysisResult `json:"result"`
		Issues []models.Issue        `json:"issues"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "acme/shop", report.Result.Repository)
	assert.Equal(t, "main", report.Result.Branch)
	assert.Equal(t, 1, report.Result.FilesSubmitted)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, "SQL_INJECTION", report.Issues[0].Type)
	assert.NotNil(t, report.Issues[0].Suggestion)
}

func TestAnalyze_TextAndFailOn(t *testing.T) {
	localEnv(t)
	dir := writeTree(t, map[string][]byte{"db/find.go": []byte(vulnerable)})

	out, code := runCLI(t, "analyze", dir, "--fail-on", "high")
	assert.Equal(t, exitFindings, code)
	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, "db/find.go:")
	assert.Contains(t, out, "scores: overall")
}

func TestAnalyze_Rejects(t *testing.T) {
	localEnv(t)
	empty := t.TempDir()

	out, code := runCLI(t, "analyze", empty)
	assert.Equal(t, exitUsageError, code)
	assert.Contains(t, out, "no source files")

	_, code = runCLI(t, "analyze", empty, "--format", "xml")
	assert.Equal(t, exitUsageError, code)

	_, code = runCLI(t, "analyze", empty, "--fail-on", "urgent")
	assert.Equal(t, exitUsageError, code)
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	out, code := runCLI(t, "migrate")
	assert.Equal(t, exitUsageError, code)
	assert.Contains(t, out, "DATABASE_URL")
}

// --- keys ---

type fakeKeyStore struct {
	created []*models.APIKey
	revoked []uuid.UUID
	err     error
}

func (f *fakeKeyStore) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	f.created = append(f.created, k)
	return f.err
}

func (f *fakeKeyStore) ListAPIKeys(context.Context) ([]*models.APIKey, error) {
	return []*models.APIKey{{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Name: "web", KeyPrefix: "cr_abcde", Scopes: []string{"analyze"}}}, f.err
}

func (f *fakeKeyStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	f.revoked = append(f.revoked, id)
	return f.err
}

func withKeyStore(t *testing.T, ks *fakeKeyStore) {
	t.Helper()
	orig := openKeyStore
	openKeyStore = func(context.Context, string) (keyStore, func(), error) {
		return ks, func() {}, nil
	}
	t.Cleanup(func() { openKeyStore = orig })
}

func TestKeysCreate(t *testing.T) {
	ks := &fakeKeyStore{}
	withKeyStore(t, ks)

	out, code := runCLI(t, "keys", "create", "--name", "lambda", "--scope", "callback")
	require.Equal(t, exitSuccess, code, out)

	require.Len(t, ks.created, 1)
	key := ks.created[0]
	assert.Equal(t, []string{"callback"}, key.Scopes)
	assert.Contains(t, out, key.ID.String())

	var raw string
	for _, line := range bytes.Split([]byte(out), []byte("\n")) {
		if bytes.HasPrefix(line, []byte("key:")) {
			raw = string(bytes.TrimSpace(line[len("key:"):]))
		}
	}
	require.NotEmpty(t, raw)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)))
}

func TestKeysCreate_RequiresName(t *testing.T) {
	withKeyStore(t, &fakeKeyStore{})
	_, code := runCLI(t, "keys", "create")
	assert.Equal(t, exitUsageError, code)
}

func TestKeysListAndRevoke(t *testing.T) {
	ks := &fakeKeyStore{}
	withKeyStore(t, ks)

	out, code := runCLI(t, "keys", "list")
	require.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "cr_abcde")
	assert.Contains(t, out, "never")

	id := uuid.New()
	out, code = runCLI(t, "keys", "revoke", id.String())
	require.Equal(t, exitSuccess, code)
	assert.Equal(t, []uuid.UUID{id}, ks.revoked)
	assert.Contains(t, out, "revoked")

	_, code = runCLI(t, "keys", "revoke", "nope")
	assert.Equal(t, exitUsageError, code)

	withKeyStore(t, &fakeKeyStore{err: errors.New("db down")})
	_, code = runCLI(t, "keys", "revoke", id.String())
	assert.Equal(t, exitUsageError, code)
}
