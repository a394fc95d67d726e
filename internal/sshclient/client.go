package sshclient

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/tastythames/sshscan/internal/scheduler"
)

// Client dials SSH targets. It is safe for concurrent use.
type Client struct {
	cfg     Config
	hostKey ssh.HostKeyCallback
	log     *zap.Logger
}

var _ scheduler.Dialer = (*Client)(nil)

func New(cfg Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}

	hk, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, hostKey: hk, log: log}, nil
}

// Dial connects to host:port and authenticates with cred. The connection is
// closed again on every failure path.
func (c *Client) Dial(ctx context.Context, host string, port int, cred scheduler.Credential, timeout time.Duration) (scheduler.Session, error) {
	if cred.Username == "" {
		return nil, errors.New("ssh user is empty")
	}
	methods, err := authMethods(cred)
	if err != nil {
		return nil, errors.Wrapf(err, "credential %s", cred)
	}
	if port <= 0 {
		port = c.cfg.Port
	}
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	sshCfg := &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            methods,
		HostKeyCallback: c.hostKey,
		Timeout:         timeout,
		ClientVersion:   c.cfg.ClientVersion,
	}

	// Dial with context so it won't hang forever.
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	// ssh handshake can still hang without deadlines
	_ = conn.SetDeadline(time.Now().Add(timeout))

	cconn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "ssh %s@%s", cred.Username, addr)
	}
	// commands are bounded per call, not by the handshake deadline
	_ = conn.SetDeadline(time.Time{})

	c.log.Debug("ssh session established",
		zap.String("addr", addr),
		zap.Stringer("credential", cred),
		zap.ByteString("server_version", cconn.ServerVersion()))

	return &Session{client: ssh.NewClient(cconn, chans, reqs), addr: addr}, nil
}
