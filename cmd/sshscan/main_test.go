package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"

	"github.com/tastythames/sshscan/internal/cache"
	"github.com/tastythames/sshscan/internal/metrics"
	"github.com/tastythames/sshscan/internal/scheduler"
	"github.com/tastythames/sshscan/internal/sshclient"
)

func startServer(t *testing.T) int {
	t.Helper()
	srv := &gliderssh.Server{
		Handler: func(s gliderssh.Session) {
			switch s.RawCommand() {
			case "uname -a":
				_, _ = io.WriteString(s, "Linux box\n")
			case "cat /proc/uptime":
				_, _ = io.WriteString(s, "99.5 10.0\n")
			default:
				_ = s.Exit(127)
			}
		},
		PasswordHandler: func(ctx gliderssh.Context, password string) bool {
			return ctx.User() == "root" && password == "right"
		},
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return l.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func writeInventory(t *testing.T, fs afero.Fs, up, down int) {
	t.Helper()
	t.Setenv("SSHSCAN_TEST_WRONG", "wrong")
	t.Setenv("SSHSCAN_TEST_RIGHT", "right")
	inv := fmt.Sprintf(`
defaults: {timeout: 2s}
credentials:
  - {name: guess, password_env: SSHSCAN_TEST_WRONG}
  - {name: ops, password_env: SSHSCAN_TEST_RIGHT}
commands:
  - {name: kernel, run: ["uname -a"]}
  - {name: uptime, builtin: uptime}
targets:
  - {name: up, address: 127.0.0.1, port: %d, labels: {role: web}}
  - {name: down, address: 127.0.0.1, port: %d}
`, up, down)
	require.NoError(t, afero.WriteFile(fs, "/inv.yaml", []byte(inv), 0o600))
}

func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(fs, &stdout, &stderr).execute(context.Background(), append(args, "--log-level", "error"))
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "version")
	require.NoError(t, err)
	assert.Equal(t, "sshscan dev\n", out)
}

func TestScanEndToEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	up, down := startServer(t), closedPort(t)
	writeInventory(t, fs, up, down)
	promFile := filepath.Join(t.TempDir(), "sshscan.prom")

	out, err := execute(t, fs, "scan", "-i", "/inv.yaml", "-w", "2",
		"--no-color", "--table", "--jsonl", "/out.jsonl", "--metrics-file", promFile)
	require.NoError(t, err, "failed hosts must not fail the command")

	assert.Contains(t, out, fmt.Sprintf("[ OK ] 127.0.0.1:%d as ops(root), 2 commands", up))
	assert.Contains(t, out, fmt.Sprintf("[FAIL] 127.0.0.1:%d", down))
	assert.Contains(t, out, "TARGET")

	b, err := afero.ReadFile(fs, "/out.jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)

	byPort := map[int64]gjson.Result{}
	for _, l := range lines {
		r := gjson.Parse(l)
		byPort[r.Get("port").Int()] = r
	}
	ok := byPort[int64(up)]
	assert.Equal(t, "SUCCESS", ok.Get("status").String())
	assert.Equal(t, "ops", ok.Get("credential").String())
	assert.Equal(t, int64(2), ok.Get("auth_attempts").Int())
	assert.Equal(t, "Linux box\n", ok.Get("commands.0.stdout").String())
	assert.NotContains(t, string(b), "right")

	bad := byPort[int64(down)]
	assert.Equal(t, "FAILED", bad.Get("status").String())
	assert.Contains(t, bad.Get("error").String(), "credential(s) failed")

	prom, err := os.ReadFile(promFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), fmt.Sprintf(`ssh_os_uptime_seconds{name="up",role="web",target="127.0.0.1:%d"} 99.5`, up))
	assert.Contains(t, string(prom), "sshscan_scan_runs_total 1")
}

func TestScanQuietJSONToStdout(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeInventory(t, fs, startServer(t), closedPort(t))

	out, err := execute(t, fs, "scan", "-i", "/inv.yaml", "--quiet", "--jsonl", "-")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.True(t, gjson.Valid(l))
	}
}

func TestScanConfigErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := execute(t, fs, "scan", "-i", "/missing.yaml")
	assert.ErrorContains(t, err, "load inventory")

	writeInventory(t, fs, 1, 2)
	_, err = execute(t, fs, "scan", "-i", "/inv.yaml", "-w", "0")
	assert.ErrorContains(t, err, "at least one worker")

	_, err = execute(t, fs, "scan", "-i", "/inv.yaml", "--insecure-host-key=false")
	assert.ErrorContains(t, err, "no host key policy")

	_, err = execute(t, fs, "scan", "--config", "/nope.yaml")
	assert.ErrorContains(t, err, "read config")
}

func TestConfigFileAndEnv(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeInventory(t, fs, startServer(t), closedPort(t))
	require.NoError(t, afero.WriteFile(fs, "/sshscan.yaml", []byte("inventory: /inv.yaml\nquiet: true\n"), 0o600))
	t.Setenv("SSHSCAN_JSONL", "-")

	out, err := execute(t, fs, "scan", "--config", "/sshscan.yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"))
	assert.NotContains(t, out, "[ OK ]")
}

func TestLogFileClosedAfterRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := filepath.Join(t.TempDir(), "sshscan.log")

	for _, args := range [][]string{
		{"version"},
		{"scan", "-i", "/missing.yaml"},
	} {
		var stdout, stderr bytes.Buffer
		a := newApp(fs, &stdout, &stderr)
		_ = a.execute(context.Background(), append(args, "--log-output", path, "--log-format", "json"))
		assert.Nil(t, a.closeLog, "%v left the log file open", args)
	}

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func newTestServer(t *testing.T, fs afero.Fs) *server {
	t.Helper()
	a := &app{fs: fs, v: viper.New(), log: zaptest.NewLogger(t)}
	a.v.Set("inventory", "/inv.yaml")

	dialer, err := sshclient.New(sshclient.DefaultConfig(), a.log)
	require.NoError(t, err)

	s := &server{a: a, results: cache.NewMemCache()}
	s.metrics = metrics.New(s.results)
	s.engine, err = scheduler.New(scheduler.Options{Workers: 2, Dialer: dialer, Sink: s.results, Logger: a.log})
	require.NoError(t, err)
	return s
}

func TestServePassReloadsInventory(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeInventory(t, fs, startServer(t), closedPort(t))
	s := newTestServer(t, fs)

	s.pass(context.Background())
	assert.True(t, s.ready.Load())
	assert.Equal(t, 2, s.results.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.OutcomesTotal.WithLabelValues("SUCCESS")))

	// a broken inventory keeps the previous targets
	require.NoError(t, afero.WriteFile(fs, "/inv.yaml", []byte("targets: ["), 0o600))
	s.pass(context.Background())
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.ScansTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.OutcomesTotal.WithLabelValues("SUCCESS")))
}

func TestServeMux(t *testing.T) {
	s := newTestServer(t, afero.NewMemMapFs())
	h := s.mux()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)

	s.ready.Store(true)
	assert.Equal(t, http.StatusOK, get("/ready").Code)

	rec := get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sshscan_up 1")
}
