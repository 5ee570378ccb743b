package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
fetch:
  backend: colly
extract:
  providers: ["groq"]
  groq:
    api_key: test-key
storage:
  backend: sqlite
  sqlite_path: ` + filepath.Join(t.TempDir(), "ingest.db") + `
logging:
  development: false
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cliApp := newCLI()
	cliApp.Writer = &out
	err := cliApp.Run(append([]string{"ingestd"}, args...))
	return out.String(), err
}

func TestHealthCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out, err := run(t, "--config", writeConfig(t), "health", srv.URL)
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Equal(t, true, result["healthy"])
}

func TestAddLinkThenRequeueIsRejected(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "add-link", "--relevance", "0.8", "https://www.aihw.gov.au/reports/youth-justice")
	require.NoError(t, err)
	var link map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &link))
	require.Equal(t, "pending", link["status"])

	// The SQLite file persists between invocations; a pending link cannot be
	// requeued.
	_, err = run(t, "--config", cfg, "requeue", link["id"].(string))
	require.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "migrate")
	require.NoError(t, err)
}

func TestLoadConfigFailure(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "migrate")
	require.ErrorContains(t, err, "load config")
}
