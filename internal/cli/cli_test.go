package cli

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// endpoint serves a JSON body that tests can swap between calls.
type endpoint struct {
	mu   sync.Mutex
	body string
	auth string
}

func (e *endpoint) set(body string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.body = body
}

func (e *endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auth = r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, e.body)
}

type harness struct {
	dataDir string
}

func newHarness(t *testing.T) *harness {
	t.Setenv("SHELFARD_REGISTRY_BACKEND", "")
	return &harness{dataDir: filepath.Join(t.TempDir(), "data")}
}

func (h *harness) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	e := &env{stdout: &stdout, stderr: &stderr, ctx: context.Background()}
	argv := append([]string{"--data-dir", h.dataDir, "--no-color"}, args...)
	code := e.run(argv)
	return code, stdout.String(), stderr.String()
}

func TestRest_SnapshotAndCheck(t *testing.T) {
	h := newHarness(t)
	ep := &endpoint{body: `{"id": 1, "email": "a@example.com"}`}
	srv := httptest.NewServer(ep)
	defer srv.Close()
	url := srv.URL + "/users"

	code, out, _ := h.run("rest", "snapshot", url, "--name", "users", "--bearer", "tok")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Fetching "+url+" …")
	assert.Contains(t, out, "✓ Snapshot saved: 'users' (version 1, 2 top-level columns)")
	assert.Equal(t, "Bearer tok", ep.auth)

	code, out, _ = h.run("rest", "check", url, "--name", "users")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "✓ No drift detected for 'users'")

	ep.set(`{"id": "u-1", "email": "a@example.com", "phone": "555"}`)
	code, out, _ = h.run("rest", "check", "--name", "users", url)
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "Schema drift detected for 'users'")
	assert.Contains(t, out, "TYPE_CHANGED")
	assert.Contains(t, out, "'phone'")
}

func TestRest_CheckWithoutSnapshot(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(&endpoint{body: `{"id": 1}`})
	defer srv.Close()

	code, out, _ := h.run("rest", "check", srv.URL+"/orders")
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "✗ No snapshot found for '127_0_0_1_")
	assert.Contains(t, out, "  Run:  shelfard rest snapshot "+srv.URL+"/orders\n")
}

func TestRest_FetchFailure(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	code, out, _ := h.run("rest", "snapshot", srv.URL+"/missing", "--name", "missing")
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "✗ Failed to fetch schema:")
}

func TestRest_JSONOutput(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(&endpoint{body: `{"tenant": "t", "id": 1}`})
	defer srv.Close()

	code, out, _ := h.run("rest", "snapshot", srv.URL, "--name", "events", "--json", "--partition-key", "tenant")
	require.Equal(t, 0, code)
	assert.NotContains(t, out, "Fetching")
	assert.Contains(t, out, `"version": 1`)
	assert.Contains(t, out, `"partition_keys": [`)
}

func TestRest_UsageErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no subcommand", []string{"rest"}, "usage: shelfard rest"},
		{"unknown subcommand", []string{"rest", "delete", "http://x"}, "unknown rest command"},
		{"missing url", []string{"rest", "check"}, "expected exactly one URL"},
		{"malformed header", []string{"rest", "check", "http://x", "--header", "nokey"}, "INVALID_HEADER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := h.run(tt.args...)
			assert.Equal(t, 2, code)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestHistoryCommands(t *testing.T) {
	h := newHarness(t)
	ep := &endpoint{body: `{"id": 1}`}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	_, _, _ = h.run("rest", "snapshot", srv.URL, "--name", "orders")
	ep.set(`{"id": 1, "total": 9.5}`)
	_, _, _ = h.run("rest", "snapshot", srv.URL, "--name", "orders")

	code, out, _ := h.run("history", "list")
	require.Equal(t, 0, code)
	assert.Equal(t, "orders\n", out)

	code, out, _ = h.run("history", "versions", "orders")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "History of 'orders' (2 versions)")

	code, out, _ = h.run("history", "show", "orders", "--version", "1", "--json")
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"version": 1`)
	assert.NotContains(t, out, "total")

	code, _, errOut := h.run("history", "show", "ghost")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "NOT_FOUND")

	archive := filepath.Join(t.TempDir(), "orders.shelfard")
	code, out, _ = h.run("history", "export", "orders", "-o", archive)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Exported 2 versions of 'orders'")

	code, out, _ = h.run("history", "inspect", archive)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Archive of 'orders': 2 versions")
	assert.Contains(t, out, "v2")
}

func TestSchemaOpenAPI(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(&endpoint{body: `{"id": 1, "tags": ["a"]}`})
	defer srv.Close()

	_, _, _ = h.run("rest", "snapshot", srv.URL, "--name", "orders")
	code, out, _ := h.run("schema", "openapi", "orders")
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"openapi": "3.0.3"`)
	assert.Contains(t, out, `"tags"`)
}

func TestRootCommands(t *testing.T) {
	h := newHarness(t)

	code, out, _ := h.run("version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "shelfard dev\n", out)

	code, out, _ = h.run()
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Usage:")

	code, _, errOut := h.run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "unknown command: frobnicate")

	code, _, errOut = h.run("--registry", "dynamo", "history", "list")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "invalid registry backend")
}

func TestParseArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "")
	var headers stringList
	fs.Var(&headers, "header", "")

	args, err := parseArgs(fs, []string{"http://x", "--name", "n", "--header", "A=1", "extra", "--header", "B=2", "--", "--literal"})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x", "extra", "--literal"}, args)
	assert.Equal(t, "n", *name)
	assert.Equal(t, stringList{"A=1", "B=2"}, headers)

	_, err = parseArgs(fs, []string{"--unknown"})
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown"))
}
