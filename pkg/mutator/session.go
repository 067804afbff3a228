// Copyright © 2018 One Concern

// Package mutator applies configuration overrides to remote documents and restores them afterwards.
//
// A Session tracks, for each remote path it touched, the content fetched before its first mutation.
// Applying overrides several times keeps that first backup, so that Restore always returns the
// remote file to its state before the session started.
//
// Sessions assume a single writer per remote path: concurrent sessions on the same file are not detected.
package mutator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oneconcern/remoteconf/pkg/confdoc"
	"github.com/oneconcern/remoteconf/pkg/docstore"
	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/oneconcern/remoteconf/pkg/remote"
	"github.com/oneconcern/remoteconf/pkg/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrNoBackupToRestore is returned by Restore in strict mode when no backup was recorded
	ErrNoBackupToRestore = errors.New("no backup to restore")

	// ErrPushIndeterminate is returned when a push failed in a way that may have altered the remote file.
	//
	// The restore guarantee no longer holds for that path: manual intervention is required.
	ErrPushIndeterminate = errors.New("push result unknown, remote file may be corrupted")

	// ErrIndeterminate is returned when applying overrides to a path left indeterminate by an earlier push
	ErrIndeterminate = errors.New("remote path is in an indeterminate state")

	// ErrNoRunner is returned when a restart is requested without a configured runner
	ErrNoRunner = errors.New("no remote command runner configured")
)

// Store is the local staging area used by a session.
//
// *docstore.Store implements it.
type Store interface {
	Stage(remotePath string, content []byte) (string, error)
	BackupOnceAs(remotePath, name string, content []byte) (string, error)
	Backup(remotePath string) ([]byte, error)
	HasBackup(remotePath string) bool
	Backups() []string
	Discard(remotePath string) error
}

var _ Store = &docstore.Store{}

// Option is a functor to pass optional parameters to a session
type Option func(*Session)

// Logger specifies a logger for the session
func Logger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.l = logger
		}
	}
}

// Strict makes Restore fail with ErrNoBackupToRestore when nothing was backed up
func Strict(strict bool) Option {
	return func(s *Session) {
		s.strict = strict
	}
}

// WithMetrics records operations on m
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithRunner specifies how to run commands on the remote host
func WithRunner(r remote.Runner) Option {
	return func(s *Session) {
		s.runner = r
	}
}

// ApplyOption is a functor to pass optional parameters to Apply
type ApplyOption func(*applyOptions)

type applyOptions struct {
	backupName string
}

// BackupName sets the local file name of the backup, when this call is the first to mutate the path
func BackupName(name string) ApplyOption {
	return func(o *applyOptions) {
		o.backupName = name
	}
}

// Session mutates and restores remote documents through one transport
type Session struct {
	t       transport.Transport
	store   Store
	runner  remote.Runner
	l       *zap.Logger
	strict  bool
	metrics *Metrics

	mu            sync.Mutex
	indeterminate map[string]struct{}
}

// New creates a session moving files with t and keeping backups in store
func New(t transport.Transport, store Store, opts ...Option) *Session {
	s := &Session{
		t:             t,
		store:         store,
		l:             zap.NewNop(),
		indeterminate: make(map[string]struct{}),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

func (s *Session) String() string {
	return "session@" + s.t.String()
}

// Apply fetches the remote document, backs it up if this is the first mutation of the path,
// rewrites it with the overrides and pushes the result.
//
// The remote file is not modified unless the push is reached. A push failing in a way
// that may have modified it yields ErrPushIndeterminate.
func (s *Session) Apply(ctx context.Context, remotePath string, o *confdoc.Overrides, opts ...ApplyOption) error {
	start := time.Now()
	err := s.apply(ctx, remotePath, o, opts...)
	s.metrics.observe("apply", start, err)
	return err
}

func (s *Session) apply(ctx context.Context, remotePath string, o *confdoc.Overrides, opts ...ApplyOption) error {
	var options applyOptions
	for _, apply := range opts {
		apply(&options)
	}

	if s.isIndeterminate(remotePath) {
		return ErrIndeterminate.Wrapf("%q", remotePath)
	}

	current, err := s.t.Fetch(ctx, remotePath)
	if err != nil {
		return err
	}

	// a document that cannot be rewritten leaves no backup behind
	mutated, err := confdoc.Rewrite(current, o)
	if err != nil {
		return err
	}

	if !s.store.HasBackup(remotePath) {
		backup, erb := s.store.BackupOnceAs(remotePath, options.backupName, current)
		if erb != nil {
			return erb
		}
		s.metrics.backupRecorded()
		s.l.Info("backed up remote document", zap.String("path", remotePath), zap.String("backup", backup))
	}

	if _, err = s.store.Stage(remotePath, mutated); err != nil {
		return err
	}

	if err = s.push(ctx, remotePath, mutated); err != nil {
		return err
	}

	s.l.Info("applied overrides", zap.String("path", remotePath), zap.Strings("keys", o.Keys()))
	return nil
}

// push sends content and marks the path indeterminate when the outcome cannot be known
func (s *Session) push(ctx context.Context, remotePath string, content []byte) error {
	err := s.t.Push(ctx, remotePath, content)
	if err == nil {
		return nil
	}
	if transport.Indeterminate(err) {
		s.markIndeterminate(remotePath)
		s.l.Error("remote document left in an indeterminate state", zap.String("path", remotePath), zap.Error(err))
		return ErrPushIndeterminate.Wrap(err)
	}
	return err
}

// Restore pushes back the content backed up before the first mutation of remotePath, then forgets the backup.
//
// Without a backup, Restore does nothing, unless the session is strict.
// A failed restore keeps the backup, so that it may be attempted again.
func (s *Session) Restore(ctx context.Context, remotePath string) error {
	start := time.Now()
	err := s.restore(ctx, remotePath)
	s.metrics.observe("restore", start, err)
	return err
}

func (s *Session) restore(ctx context.Context, remotePath string) error {
	original, err := s.store.Backup(remotePath)
	if err != nil {
		if !errors.Is(err, docstore.ErrNoBackup) {
			return err
		}
		if s.strict {
			return ErrNoBackupToRestore.Wrapf("%q", remotePath)
		}
		s.l.Debug("nothing to restore", zap.String("path", remotePath))
		return nil
	}

	if err = s.push(ctx, remotePath, original); err != nil {
		return err
	}
	s.clearIndeterminate(remotePath)

	if err = s.store.Discard(remotePath); err != nil {
		return err
	}
	s.l.Info("restored remote document", zap.String("path", remotePath))
	return nil
}

// RestoreAll restores every remote path with a recorded backup, in lexical order.
//
// It does not stop at the first failure: all errors are combined.
func (s *Session) RestoreAll(ctx context.Context) error {
	var err error
	for _, remotePath := range s.store.Backups() {
		err = multierr.Append(err, s.Restore(ctx, remotePath))
	}
	return err
}

// Discard forgets the backup of remotePath without touching the remote file
func (s *Session) Discard(remotePath string) error {
	s.clearIndeterminate(remotePath)
	return s.store.Discard(remotePath)
}

// State reports where remotePath stands in this session
func (s *Session) State(remotePath string) State {
	if s.isIndeterminate(remotePath) {
		return Indeterminate
	}
	if s.store.HasBackup(remotePath) {
		return Mutated
	}
	return Clean
}

// Paths lists the remote paths currently mutated or indeterminate, sorted
func (s *Session) Paths() []string {
	seen := make(map[string]struct{})
	for _, p := range s.store.Backups() {
		seen[p] = struct{}{}
	}
	s.mu.Lock()
	for p := range s.indeterminate {
		seen[p] = struct{}{}
	}
	s.mu.Unlock()

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Preview fetches the remote document and returns it along with its rewritten version. Nothing is pushed.
func (s *Session) Preview(ctx context.Context, remotePath string, o *confdoc.Overrides) ([]byte, []byte, error) {
	current, err := s.t.Fetch(ctx, remotePath)
	if err != nil {
		return nil, nil, err
	}
	mutated, err := confdoc.Rewrite(current, o)
	if err != nil {
		return nil, nil, err
	}
	return current, mutated, nil
}

// Properties fetches and parses the remote document
func (s *Session) Properties(ctx context.Context, remotePath string) ([]confdoc.Property, error) {
	current, err := s.t.Fetch(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	doc, err := confdoc.Parse(current)
	if err != nil {
		return nil, err
	}
	return doc.Properties(), nil
}

// ApplyAndRestart applies overrides then runs restartCommand on the remote host.
//
// The command is not run when Apply fails.
func (s *Session) ApplyAndRestart(ctx context.Context, remotePath string, o *confdoc.Overrides, restartCommand string, opts ...ApplyOption) (string, error) {
	if s.runner == nil {
		return "", ErrNoRunner
	}
	if err := s.Apply(ctx, remotePath, o, opts...); err != nil {
		return "", err
	}
	return s.Run(ctx, restartCommand)
}

// Run executes a command on the remote host with the session's runner
func (s *Session) Run(ctx context.Context, command string) (string, error) {
	if s.runner == nil {
		return "", ErrNoRunner
	}
	start := time.Now()
	out, err := s.runner.Run(ctx, command)
	s.metrics.observe("run", start, err)
	if err != nil {
		return out, err
	}
	s.l.Info("ran remote command", zap.String("runner", s.runner.String()), zap.String("command", command))
	return out, nil
}

func (s *Session) isIndeterminate(remotePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indeterminate[remotePath]
	return ok
}

func (s *Session) markIndeterminate(remotePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indeterminate[remotePath] = struct{}{}
	s.metrics.setIndeterminate(len(s.indeterminate))
}

func (s *Session) clearIndeterminate(remotePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indeterminate, remotePath)
	s.metrics.setIndeterminate(len(s.indeterminate))
}

func isIndeterminate(err error) bool {
	return errors.Is(err, ErrPushIndeterminate)
}
