package sshclient

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tastythames/sshscan/internal/scheduler"
)

type testServer struct {
	host    string
	port    int
	hostKey gossh.Signer
}

func newSigner(t *testing.T) (gossh.Signer, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := gossh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer, priv
}

func startServer(t *testing.T, authorized gossh.PublicKey) testServer {
	t.Helper()

	hostKey, _ := newSigner(t)
	srv := &gliderssh.Server{
		Handler: func(s gliderssh.Session) {
			switch s.RawCommand() {
			case "uname -a":
				_, _ = io.WriteString(s, "Linux box 6.1.0\n")
			case "cat /proc/uptime":
				_, _ = io.WriteString(s, "350735.47 234388.90\n")
			case "false":
				_, _ = io.WriteString(s.Stderr(), "nope\n")
				_ = s.Exit(3)
			case "sleep":
				select {
				case <-s.Context().Done():
				case <-time.After(2 * time.Second):
				}
			}
		},
		PasswordHandler: func(ctx gliderssh.Context, password string) bool {
			return ctx.User() == "alice" && password == "s3cret"
		},
	}
	if authorized != nil {
		srv.PublicKeyHandler = func(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
			return ctx.User() == "deploy" && gliderssh.KeysEqual(key, authorized)
		}
	}
	srv.AddHostKey(hostKey)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return testServer{host: "127.0.0.1", port: l.Addr().(*net.TCPAddr).Port, hostKey: hostKey}
}

func newClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func alice() scheduler.Credential {
	return scheduler.Credential{Name: "ops", Username: "alice", Password: "s3cret"}
}

func TestDialPasswordAndExecute(t *testing.T) {
	srv := startServer(t, nil)
	c := newClient(t, DefaultConfig())

	sess, err := c.Dial(context.Background(), srv.host, srv.port, alice(), time.Second)
	require.NoError(t, err)
	defer sess.Close()

	out, err := sess.Execute(context.Background(), "uname -a")
	require.NoError(t, err)
	assert.Equal(t, "Linux box 6.1.0\n", out.Stdout)
	assert.Empty(t, out.Stderr)
	assert.Equal(t, 0, out.ExitCode)
}

func TestExecuteNonZeroExitIsNotAnError(t *testing.T) {
	srv := startServer(t, nil)
	c := newClient(t, DefaultConfig())

	sess, err := c.Dial(context.Background(), srv.host, srv.port, alice(), time.Second)
	require.NoError(t, err)
	defer sess.Close()

	out, err := sess.Execute(context.Background(), "false")
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "nope\n", out.Stderr)

	// the session is still usable afterwards
	out, err = sess.Execute(context.Background(), "cat /proc/uptime")
	require.NoError(t, err)
	assert.Equal(t, "350735.47 234388.90\n", out.Stdout)
}

func TestDialWrongPassword(t *testing.T) {
	srv := startServer(t, nil)
	c := newClient(t, DefaultConfig())

	cred := alice()
	cred.Password = "wrong"
	sess, err := c.Dial(context.Background(), srv.host, srv.port, cred, time.Second)
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.Contains(t, err.Error(), "unable to authenticate")
	assert.NotContains(t, err.Error(), "wrong")
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	c := newClient(t, DefaultConfig())
	_, err = c.Dial(context.Background(), "127.0.0.1", port, alice(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial 127.0.0.1:")
}

func TestDialRejectsEmptyCredential(t *testing.T) {
	c := newClient(t, DefaultConfig())

	_, err := c.Dial(context.Background(), "127.0.0.1", 22, scheduler.Credential{Username: "root"}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no password or private key")

	_, err = c.Dial(context.Background(), "127.0.0.1", 22, scheduler.Credential{Password: "x"}, time.Second)
	require.Error(t, err)
}

func TestDialPrivateKey(t *testing.T) {
	_, priv := newSigner(t)
	pub, err := gossh.NewPublicKey(priv.Public())
	require.NoError(t, err)
	srv := startServer(t, pub)

	block, err := gossh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	cred := scheduler.Credential{Name: "key", Username: "deploy", PrivateKey: pem.EncodeToMemory(block)}

	c := newClient(t, DefaultConfig())
	sess, err := c.Dial(context.Background(), srv.host, srv.port, cred, time.Second)
	require.NoError(t, err)
	require.NoError(t, sess.Close())
}

func TestDialEncryptedPrivateKey(t *testing.T) {
	_, priv := newSigner(t)
	pub, err := gossh.NewPublicKey(priv.Public())
	require.NoError(t, err)
	srv := startServer(t, pub)

	block, err := gossh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("hunter2"))
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(block)

	c := newClient(t, DefaultConfig())

	_, err = c.Dial(context.Background(), srv.host, srv.port,
		scheduler.Credential{Username: "deploy", PrivateKey: pemBytes}, time.Second)
	require.Error(t, err)

	sess, err := c.Dial(context.Background(), srv.host, srv.port,
		scheduler.Credential{Username: "deploy", PrivateKey: pemBytes, Passphrase: "hunter2"}, time.Second)
	require.NoError(t, err)
	require.NoError(t, sess.Close())
}

func TestExecuteTimeoutKeepsSession(t *testing.T) {
	srv := startServer(t, nil)
	c := newClient(t, DefaultConfig())

	sess, err := c.Dial(context.Background(), srv.host, srv.port, alice(), time.Second)
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = sess.Execute(ctx, "sleep")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, scheduler.ErrTransport)

	out, err := sess.Execute(context.Background(), "uname -a")
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
}

func TestExecuteAfterCloseIsTransportError(t *testing.T) {
	srv := startServer(t, nil)
	c := newClient(t, DefaultConfig())

	sess, err := c.Dial(context.Background(), srv.host, srv.port, alice(), time.Second)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	_, err = sess.Execute(context.Background(), "uname -a")
	require.ErrorIs(t, err, scheduler.ErrTransport)
}

func TestKnownHosts(t *testing.T) {
	srv := startServer(t, nil)
	addr := net.JoinHostPort(srv.host, strconv.Itoa(srv.port))
	dir := t.TempDir()

	good := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, srv.hostKey.PublicKey())
	require.NoError(t, os.WriteFile(good, []byte(line+"\n"), 0o600))

	c := newClient(t, Config{KnownHostsFile: good})
	sess, err := c.Dial(context.Background(), srv.host, srv.port, alice(), time.Second)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	other, _ := newSigner(t)
	bad := filepath.Join(dir, "known_hosts.bad")
	line = knownhosts.Line([]string{knownhosts.Normalize(addr)}, other.PublicKey())
	require.NoError(t, os.WriteFile(bad, []byte(line+"\n"), 0o600))

	c = newClient(t, Config{KnownHostsFile: bad})
	_, err = c.Dial(context.Background(), srv.host, srv.port, alice(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key mismatch")
}

func TestNewRequiresHostKeyPolicy(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)

	_, err = New(Config{KnownHostsFile: filepath.Join(t.TempDir(), "missing")}, nil)
	require.Error(t, err)
}

func TestClientWithEngine(t *testing.T) {
	srv := startServer(t, nil)
	c := newClient(t, DefaultConfig())

	var got []scheduler.JobOutcome
	eng, err := scheduler.New(scheduler.Options{
		Workers: 2,
		Dialer:  c,
		Sink: scheduler.SinkFunc(func(o scheduler.JobOutcome) error {
			got = append(got, o)
			return nil
		}),
	})
	require.NoError(t, err)

	wrong := scheduler.Credential{Name: "guess", Username: "alice", Password: "guess"}
	job := scheduler.Job{
		Target:      srv.host,
		Port:        srv.port,
		Timeout:     time.Second,
		Credentials: []scheduler.Credential{wrong, alice()},
		Commands:    []scheduler.CommandSpec{scheduler.Command("uname -a"), CmdUptime().Spec("")},
	}
	stats, err := eng.Run(context.Background(), func(yield func(scheduler.Job) bool) {
		yield(job)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)

	require.Len(t, got, 1)
	o := got[0]
	assert.Equal(t, scheduler.StatusSuccess, o.Status)
	assert.Equal(t, "ops", o.Auth.Matched.Name)
	assert.Equal(t, 2, o.Auth.Attempts)
	require.Len(t, o.Commands, 2)
	assert.Equal(t, "uptime", o.Commands[1].Spec)

	facts, ok, err := ParseFacts(o.Commands[1].Command, o.Commands[1].Stdout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 350735.47, facts[FactUptimeSeconds], 0.001)
}
