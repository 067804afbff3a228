// Copyright © 2018 One Concern

// Package sftp implements the direct transport: one SSH connection per call, SFTP subsystem for the copy.
package sftp

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/oneconcern/remoteconf/internal/sshconn"
	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/oneconcern/remoteconf/pkg/transport"
	"github.com/oneconcern/remoteconf/pkg/transport/status"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
)

const putStagePrefix = ".remoteconf-put-"

// Option is a functor to pass optional parameters to the sftp transport
type Option func(*sftpTransport)

// Logger specifies a logger for this transport
func Logger(logger *zap.Logger) Option {
	return func(s *sftpTransport) {
		if logger != nil {
			s.l = logger
		}
	}
}

// AtomicPut uploads to a staging file then renames it over the target (the default).
//
// When disabled, the target is truncated and written in place.
func AtomicPut(enabled bool) Option {
	return func(s *sftpTransport) {
		s.atomic = enabled
	}
}

// New creates a transport reaching the host described by cfg
func New(cfg sshconn.Config, opts ...Option) transport.Transport {
	s := &sftpTransport{
		cfg:    cfg,
		l:      zap.NewNop(),
		atomic: true,
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

type sftpTransport struct {
	cfg    sshconn.Config
	l      *zap.Logger
	atomic bool
}

func (s *sftpTransport) String() string {
	return "sftp://" + s.cfg.User + "@" + s.cfg.Addr()
}

// connect opens a fresh SSH connection and SFTP session. Both are closed by the returned func.
func (s *sftpTransport) connect(ctx context.Context) (*sftp.Client, func(), error) {
	conn, err := sshconn.Dial(ctx, s.cfg)
	if err != nil {
		return nil, nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, status.ErrConnectFailed.Wrapf("starting sftp subsystem: %v", err)
	}
	return client, func() {
		_ = client.Close()
		_ = conn.Close()
	}, nil
}

func (s *sftpTransport) Fetch(ctx context.Context, remotePath string) ([]byte, error) {
	client, closer, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closer()

	s.l.Debug("sftp get", zap.String("host", s.cfg.Host), zap.String("path", remotePath))
	f, err := client.Open(remotePath)
	if err != nil {
		return nil, toSentinelErrors(err, remotePath)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, status.ErrTransfer.Wrapf("reading %q: %v", remotePath, err)
	}
	return content, nil
}

func (s *sftpTransport) Push(ctx context.Context, remotePath string, content []byte) error {
	client, closer, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer closer()

	s.l.Debug("sftp put", zap.String("host", s.cfg.Host), zap.String("path", remotePath), zap.Int("size", len(content)))
	if !s.atomic {
		return s.write(client, remotePath, content)
	}

	stage := path.Join(path.Dir(remotePath), putStagePrefix+path.Base(remotePath))
	if err = s.write(client, stage, content); err != nil {
		_ = client.Remove(stage)
		if code, ok := status.StatusOf(err); ok && code == int(sftp.ErrSSHFxPermissionDenied) {
			// writable target in a read-only directory
			s.l.Debug("cannot stage next to target, writing in place", zap.String("path", remotePath))
			return s.write(client, remotePath, content)
		}
		if transport.Indeterminate(err) {
			// only the staging file was touched
			return status.ErrAborted.Wrap(err)
		}
		return err
	}

	if info, err := client.Stat(remotePath); err == nil {
		_ = client.Chmod(stage, info.Mode().Perm())
	}

	if err = client.PosixRename(stage, remotePath); err != nil {
		var statusErr *sftp.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == uint32(sftp.ErrSSHFxOpUnsupported) {
			// server without the posix-rename extension: fall back to an in-place write
			_ = client.Remove(stage)
			s.l.Debug("posix-rename unsupported, writing in place", zap.String("path", remotePath))
			return s.write(client, remotePath, content)
		}
		_ = client.Remove(stage)
		return status.ErrTransfer.Wrapf("renaming staged upload onto %q: %v", remotePath, err)
	}
	return nil
}

// write creates or truncates the remote file and copies content into it.
//
// Errors while opening are rejections: nothing has been written yet.
// Errors once bytes are in flight leave the file in an unknown state.
func (s *sftpTransport) write(client *sftp.Client, remotePath string, content []byte) error {
	f, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return toRejection(err, remotePath)
	}
	if _, err = f.Write(content); err != nil {
		_ = f.Close()
		return status.ErrTransfer.Wrapf("writing %q: %v", remotePath, err)
	}
	if err = f.Close(); err != nil {
		return status.ErrTransfer.Wrapf("closing %q: %v", remotePath, err)
	}
	return nil
}

func toSentinelErrors(err error, remotePath string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return status.ErrNotFound.Wrapf("%q", remotePath)
	}
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == uint32(sftp.ErrSSHFxNoSuchFile) {
			return status.ErrNotFound.Wrapf("%q", remotePath)
		}
		return status.Rejected(int(statusErr.Code), statusErr.Error())
	}
	if errors.Is(err, os.ErrPermission) {
		return status.Rejected(int(sftp.ErrSSHFxPermissionDenied), err.Error())
	}
	if isConnectionError(err) {
		return status.ErrTransfer.Wrap(err)
	}
	return status.Rejected(int(sftp.ErrSSHFxFailure), err.Error())
}

func toRejection(err error, remotePath string) error {
	if isConnectionError(err) {
		return status.ErrTransfer.Wrap(err)
	}
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		return status.Rejected(int(statusErr.Code), remotePath+": "+statusErr.Error())
	}
	if errors.Is(err, os.ErrNotExist) {
		return status.Rejected(int(sftp.ErrSSHFxNoSuchFile), remotePath+": "+err.Error())
	}
	if errors.Is(err, os.ErrPermission) {
		return status.Rejected(int(sftp.ErrSSHFxPermissionDenied), remotePath+": "+err.Error())
	}
	return status.Rejected(int(sftp.ErrSSHFxFailure), remotePath+": "+err.Error())
}

func isConnectionError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection)
}
