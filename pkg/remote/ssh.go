// Copyright © 2018 One Concern

package remote

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/oneconcern/remoteconf/internal/sshconn"
	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/oneconcern/remoteconf/pkg/transport/status"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SSHOption is a functor to pass optional parameters to the ssh runner
type SSHOption func(*sshRunner)

// SSHLogger specifies a logger for the ssh runner
func SSHLogger(logger *zap.Logger) SSHOption {
	return func(r *sshRunner) {
		if logger != nil {
			r.l = logger
		}
	}
}

// NewSSH creates a runner opening one exec session per command on the host described by cfg
func NewSSH(cfg sshconn.Config, opts ...SSHOption) Runner {
	r := &sshRunner{
		cfg: cfg,
		l:   zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

type sshRunner struct {
	cfg sshconn.Config
	l   *zap.Logger
}

func (r *sshRunner) String() string {
	return "ssh://" + r.cfg.User + "@" + r.cfg.Addr()
}

func (r *sshRunner) Run(ctx context.Context, command string) (string, error) {
	client, err := sshconn.Dial(ctx, r.cfg)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", status.ErrConnectFailed.Wrapf("opening session: %v", err)
	}
	defer session.Close()

	// a cancelled context tears the connection down, which unblocks Run
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()

	var stdout, stderr bytes.Buffer
	lines := r.lineLogger(command)
	session.Stdout = io.MultiWriter(&stdout, lines)
	session.Stderr = &stderr

	r.l.Debug("ssh exec", zap.String("host", r.cfg.Host), zap.String("command", command))
	err = session.Run(command)
	_ = lines.Close()

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return stdout.String(), nil
	case errors.As(err, &exitErr):
		return stdout.String(), &CommandError{
			Command: command,
			Code:    exitErr.ExitStatus(),
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
		}
	case ctx.Err() != nil:
		return stdout.String(), status.ErrTransfer.Wrapf("running %q: %v", command, ctx.Err())
	default:
		return stdout.String(), status.ErrTransfer.Wrapf("running %q: %v", command, err)
	}
}

// lineLogger logs the command output line by line as it streams
func (r *sshRunner) lineLogger(command string) io.WriteCloser {
	pr, pw := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			r.l.Debug("ssh exec output", zap.String("command", command), zap.String("line", scanner.Text()))
		}
		_, _ = io.Copy(io.Discard, pr)
	}()
	return pw
}
