// Copyright © 2018 One Concern

package config

import (
	"net/http"
	"os"

	"github.com/oneconcern/remoteconf/pkg/dlogger"
	"github.com/oneconcern/remoteconf/pkg/docstore"
	"github.com/oneconcern/remoteconf/pkg/mutator"
	"github.com/oneconcern/remoteconf/pkg/remote"
	"github.com/oneconcern/remoteconf/pkg/transport"
	"github.com/oneconcern/remoteconf/pkg/transport/localfs"
	"github.com/oneconcern/remoteconf/pkg/transport/service"
	"github.com/oneconcern/remoteconf/pkg/transport/sftp"
	"github.com/oneconcern/remoteconf/pkg/transport/status"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Logger builds the logger configured by log.level
func (c *Config) Logger() (*zap.Logger, error) {
	return dlogger.GetLogger(c.Log.Level)
}

// NewTransport builds the configured backend, traced with the global tracer
func (c *Config) NewTransport(l *zap.Logger) (transport.Transport, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	l = dlogger.OrNop(l)

	var (
		t   transport.Transport
		err error
	)
	switch c.Transport {
	case TransportSFTP:
		t = sftp.New(c.SSH(), sftp.Logger(l))
	case TransportService:
		size, _ := c.MaxSize()
		t, err = service.New(c.Service.URL, service.Logger(l), service.MaxSize(size), service.HTTPClient(c.httpClient()))
		if err != nil {
			return nil, ErrInvalidConfig.Wrap(err)
		}
	case TransportLocal:
		t = localfs.New(afero.NewBasePathFs(afero.NewOsFs(), c.Local.Root))
	}
	return transport.Instrument(opentracing.GlobalTracer(), l, t), nil
}

func (c *Config) httpClient() *http.Client {
	return &http.Client{Timeout: c.Service.Timeout}
}

// NewRunner builds the command runner matching the configured backend.
//
// The local backend has no runner.
func (c *Config) NewRunner(l *zap.Logger) (remote.Runner, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	l = dlogger.OrNop(l)

	switch c.Transport {
	case TransportSFTP:
		return remote.NewSSH(c.SSH(), remote.SSHLogger(l)), nil
	case TransportService:
		r, err := remote.NewService(c.Service.URL, remote.ServiceLogger(l), remote.ServiceHTTPClient(c.httpClient()))
		if err != nil {
			return nil, ErrInvalidConfig.Wrap(err)
		}
		return r, nil
	default:
		return nil, status.ErrUnsupported.Wrapf("no command runner for the %s transport", c.Transport)
	}
}

// NewStore opens the local staging area under scratch.dir, creating it if needed
func (c *Config) NewStore(l *zap.Logger) (*docstore.Store, error) {
	if err := os.MkdirAll(c.Scratch.Dir, 0700); err != nil {
		return nil, docstore.ErrStore.Wrap(err)
	}
	return docstore.New(afero.NewBasePathFs(afero.NewOsFs(), c.Scratch.Dir), docstore.Logger(l))
}

// NewSession wires the configured transport, store and runner into a mutation session
func (c *Config) NewSession(l *zap.Logger, opts ...mutator.Option) (*mutator.Session, error) {
	t, err := c.NewTransport(l)
	if err != nil {
		return nil, err
	}
	store, err := c.NewStore(l)
	if err != nil {
		return nil, err
	}

	options := []mutator.Option{mutator.Logger(l), mutator.Strict(c.Restore.Strict)}
	if runner, err := c.NewRunner(l); err == nil {
		options = append(options, mutator.WithRunner(runner))
	}
	return mutator.New(t, store, append(options, opts...)...), nil
}
