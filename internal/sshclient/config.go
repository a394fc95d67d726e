package sshclient

import (
	"time"
)

type Config struct {
	// Timeout is used when a job does not carry its own connect timeout.
	Timeout time.Duration
	// Port is used when a job does not carry its own port.
	Port int

	// KnownHostsFile enables host key verification against an OpenSSH
	// known_hosts file.
	KnownHostsFile string
	// InsecureSkipHostKey accepts any host key when no known_hosts file is set.
	InsecureSkipHostKey bool

	// ClientVersion overrides the SSH identification string.
	ClientVersion string
}

func DefaultConfig() Config {
	return Config{
		Timeout:             5 * time.Second,
		Port:                22,
		InsecureSkipHostKey: true,
	}
}
