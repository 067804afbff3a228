// Copyright © 2018 One Concern

// Package sshconn builds SSH clients for the direct transport and the ssh command runner.
//
// Host key verification is disabled unless a callback is configured: target hosts are
// ephemeral test machines whose keys are not known in advance.
package sshconn

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/oneconcern/remoteconf/pkg/transport/status"
	"golang.org/x/crypto/ssh"
)

const (
	// DefaultPort is the standard SSH port
	DefaultPort = 22

	// DefaultTimeout bounds the TCP dial and SSH handshake
	DefaultTimeout = 30 * time.Second
)

// ErrNoCredential is returned when neither a password nor a private key is configured
var ErrNoCredential = errors.New("no ssh credential configured")

// Config describes how to reach and authenticate against a remote host
type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	// KeyFile is a path to a PEM encoded private key. PrivateKey takes precedence when set.
	KeyFile    string
	PrivateKey []byte
	Passphrase string

	Timeout         time.Duration
	HostKeyCallback ssh.HostKeyCallback
}

// Addr yields host:port
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// ClientConfig builds the golang.org/x/crypto/ssh client configuration
func (c Config) ClientConfig() (*ssh.ClientConfig, error) {
	var auths []ssh.AuthMethod

	key := c.PrivateKey
	if len(key) == 0 && c.KeyFile != "" {
		var err error
		key, err = os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, ErrNoCredential.Wrapf("reading key file %q: %v", c.KeyFile, err)
		}
	}
	if len(key) > 0 {
		var (
			signer ssh.Signer
			err    error
		)
		if c.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(c.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, ErrNoCredential.Wrapf("parsing private key: %v", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		password := c.Password
		auths = append(auths,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(auths) == 0 {
		return nil, ErrNoCredential
	}

	hostKeyCallback := c.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() // #nosec
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// Dial opens an SSH connection to the configured host.
//
// Any failure to connect or authenticate is reported as status.ErrConnectFailed.
func Dial(ctx context.Context, c Config) (*ssh.Client, error) {
	clientConfig, err := c.ClientConfig()
	if err != nil {
		return nil, status.ErrConnectFailed.Wrap(err)
	}

	addr := c.Addr()
	dialer := net.Dialer{Timeout: clientConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, status.ErrConnectFailed.Wrap(err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(clientConfig.Timeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, status.ErrConnectFailed.Wrap(err)
	}

	// the handshake deadline must not bound the transfer itself
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}
