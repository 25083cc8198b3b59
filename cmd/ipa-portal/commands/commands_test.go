package commands

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/ipa-admin-portal/internal/config"
	"github.com/netresearch/ipa-admin-portal/internal/excel"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { cfgFile = "" })

	var out bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ipa-portal dev")
}

func TestTemplateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.xlsx")
	out, err := execute(t, "template", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, _, err := excel.ParseRows(f)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "init", "--config", path, "--server", "ipa.test.local")
	require.NoError(t, err)

	t.Setenv("IPA_PORTAL_DIRECTORY_SERVER", "")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ipa.test.local", cfg.Directory.Server)

	_, err = execute(t, "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")
}

func TestBuildServer(t *testing.T) {
	cfg := config.Default("ipa.example.com")
	cfg.SecretLink.URL = "https://yopass.example.com"
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, cleanup, err := buildServer(cfg, log)
	require.NoError(t, err)
	defer cleanup()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, cfg.Metrics.Path, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ipa_portal_sessions_active 0")
}

func TestBuildServerRejectsBadDirectory(t *testing.T) {
	cfg := config.Default("ldap://ipa.example.com")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, _, err := buildServer(cfg, log)
	assert.Error(t, err)
}
