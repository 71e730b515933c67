package deskcli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/projectdesk/internal/apiclient"
	"github.com/phillip-england/projectdesk/internal/auditlog"
	"github.com/phillip-england/projectdesk/internal/config"
	"github.com/phillip-england/projectdesk/internal/devapi"
	"github.com/phillip-england/projectdesk/internal/envutil"
	"github.com/phillip-england/projectdesk/internal/records"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out, &out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootWithoutCommandIsUsageError(t *testing.T) {
	out, err := execute(t)
	assert.ErrorIs(t, err, ErrUsage)
	assert.Contains(t, out, "setup")
	assert.Contains(t, out, "audit")

	var buf bytes.Buffer
	PrintUsage(&buf)
	assert.Contains(t, buf.String(), "projectdesk")
}

func TestSetupWritesEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")

	_, err := execute(t, "setup", "--env-file", envPath)
	require.EqualError(t, err, "--admin-password is required")

	_, err = execute(t, "setup", "--env-file", envPath, "--admin-password", "short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid admin password")

	out, err := execute(t, "setup", "--env-file", envPath,
		"--admin-email", "owner@example.com", "--admin-password", "correct-horse-battery", "--admin-name", "Site Owner")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+envPath)

	values, err := envutil.ReadDotEnv(envPath)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", values["ADMIN_EMAIL"])
	assert.Equal(t, "Site Owner", values["ADMIN_NAME"])
	assert.GreaterOrEqual(t, len(values["JWT_SECRET"]), 32)
	assert.GreaterOrEqual(t, len(values["SESSION_SECRET"]), 32)
	assert.NotEqual(t, values["JWT_SECRET"], values["SESSION_SECRET"])
	assert.Equal(t, "http://localhost:8080", values["API_BASE_URL"])

	_, err = execute(t, "setup", "--env-file", envPath, "--admin-password", "correct-horse-battery")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "setup", "--env-file", envPath, "--admin-password", "correct-horse-battery", "--force")
	require.NoError(t, err)
}

func TestSetupWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	cfgPath := filepath.Join(dir, "conf", "projectdesk.yaml")

	out, err := execute(t, "setup", "--env-file", envPath, "--config", cfgPath,
		"--admin-password", "correct-horse-battery", "--write-config")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+cfgPath)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Console.Addr)
	assert.Equal(t, "console.db", cfg.Console.StorePath)
	raw, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correct-horse-battery")

	otherEnv := filepath.Join(dir, "other.env")
	_, err = execute(t, "setup", "--env-file", otherEnv, "--config", cfgPath,
		"--admin-password", "correct-horse-battery", "--write-config")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.NoFileExists(t, otherEnv)
}

func TestRunRejectsUnknownTarget(t *testing.T) {
	_, err := execute(t, "run", "client")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid argument")

	_, err = execute(t, "run")
	require.Error(t, err)
}

func TestRunAllValidatesBothServers(t *testing.T) {
	cfg := config.Default()
	err := runAll(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "SESSION_SECRET")
}

func TestTailwindReleaseAssetName(t *testing.T) {
	cases := map[string]string{
		"darwin/arm64":  "tailwindcss-macos-arm64",
		"linux/amd64":   "tailwindcss-linux-x64",
		"windows/amd64": "tailwindcss-windows-x64.exe",
	}
	for platform, want := range cases {
		goos, goarch, _ := strings.Cut(platform, "/")
		got, err := tailwindReleaseAssetName(goos, goarch)
		require.NoError(t, err, platform)
		assert.Equal(t, want, got)
	}
	_, err := tailwindReleaseAssetName("plan9", "386")
	assert.Error(t, err)

	assert.Equal(t, filepath.Join("internal", "console", "assets", "app.css"), tailwindOutputPath())
}

func TestEnsureTailwindDownload(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit is not tracked on windows")
	}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("#!/bin/sh\n"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "bin", "tailwindcss")
	require.NoError(t, ensureTailwindDownload(context.Background(), dest, srv.URL+"/tailwind"))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)

	require.NoError(t, ensureTailwindDownload(context.Background(), dest, srv.URL+"/tailwind"))
	assert.Equal(t, int32(1), hits.Load())

	err = ensureTailwindDownload(context.Background(), filepath.Join(t.TempDir(), "tw"), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestRenderWritesPDF(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "quote.json")
	out := filepath.Join(dir, "quote.pdf")
	require.NoError(t, os.WriteFile(in, []byte(`{"data": {
		"number": "QT-0007", "customerName": "Acme", "projectName": "Riverside",
		"taxPercent": 5, "items": [{"description": "Concrete", "quantity": 10, "rate": 100}]
	}}`), 0o644))

	stdout, err := execute(t, "render", "--config", filepath.Join(dir, "none.yaml"),
		"--entity", "quotations", "--in", in, "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote "+out)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF")))

	_, err = execute(t, "render", "--entity", "widgets", "--in", in, "--out", out)
	assert.ErrorIs(t, err, ErrUsage)

	_, err = execute(t, "render", "--entity", "quotations")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReadRecordFileAcceptsBareRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lead.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"customerName": "Acme"}`), 0o644))
	rec, err := readRecordFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec.String("customerName"))

	require.NoError(t, os.WriteFile(path, []byte(`{nope`), 0o644))
	_, err = readRecordFile(path)
	assert.Error(t, err)
}

func TestAuditExport(t *testing.T) {
	api, err := devapi.New(context.Background(), config.APIConfig{
		DBPath:        filepath.Join(t.TempDir(), "api.db"),
		AdminEmail:    "admin@example.com",
		AdminPassword: "correct-horse-battery",
		JWTSecret:     "0123456789abcdef0123",
		TokenTTL:      time.Hour,
	}, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = api.Close()
	})

	client := apiclient.New(srv.URL, srv.Client())
	login, err := client.Login(context.Background(), "admin@example.com", "correct-horse-battery")
	require.NoError(t, err)
	ctx := context.Background()
	_, err = client.Create(ctx, login.Token, records.Leads.Endpoint, records.Record{"customerName": "Acme"})
	require.NoError(t, err)
	_, err = client.Create(ctx, login.Token, records.Projects.Endpoint, records.Record{"projectName": "Riverside", "customerName": "Acme"})
	require.NoError(t, err)

	dir := t.TempDir()
	out := filepath.Join(dir, "leads.jsonl.xz")
	stdout, err := execute(t, "audit", "export", "--config", filepath.Join(dir, "none.yaml"),
		"--api", srv.URL, "--email", "admin@example.com", "--password", "correct-horse-battery",
		"--entity", "leads", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote 1 entries")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	entries, err := auditlog.ReadArchive(f)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "leads", entries[0].EntityType)
	assert.Equal(t, "create", entries[0].Action)

	_, err = execute(t, "audit", "export", "--config", filepath.Join(dir, "none.yaml"),
		"--api", srv.URL, "--email", "admin@example.com", "--password", "wrong-password-here", "--out", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign in")
}
