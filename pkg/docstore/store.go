// Copyright © 2018 One Concern

// Package docstore keeps the local working copy and the first backup of each remote document.
//
// Local names are derived from the remote path: a directory named after a fingerprint of the
// full path holds "<base>" (working copy) and "backup-<base>" (backup), so that two remote
// files with the same base name never collide.
//
// An index file records which backups exist, so that a later process can restore them.
package docstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	farm "github.com/dgryski/go-farm"
	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const (
	// IndexFile is the name of the index, at the root of the store
	IndexFile = "index.yaml"

	// BackupPrefix prefixes the default backup name
	BackupPrefix = "backup-"

	indexVersion = 1
	tempPattern  = ".tmp-*"
)

var (
	// ErrNoBackup is returned when no backup has been recorded for a remote path
	ErrNoBackup = errors.New("no backup recorded")

	// ErrStore is returned when the local store cannot be read or written
	ErrStore = errors.New("local document store failure")

	// ErrInvalidPath is returned when a remote path or a backup name does not name a file
	ErrInvalidPath = errors.New("remote path does not name a file")
)

// Option is a functor to pass optional parameters to the store
type Option func(*Store)

// Logger specifies a logger for this store
func Logger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.l = logger
		}
	}
}

// Entry records the local files kept for one remote path
type Entry struct {
	Remote  string `yaml:"remote"`
	Working string `yaml:"working,omitempty"`
	Backup  string `yaml:"backup,omitempty"`
}

type index struct {
	Version int     `yaml:"version"`
	Entries []Entry `yaml:"entries"`
}

// Store is the local staging area
type Store struct {
	fs afero.Fs
	l  *zap.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

// New creates a store on fs, loading the index left by a previous process if any.
//
// A nil fs means an in-memory store.
func New(fs afero.Fs, opts ...Option) (*Store, error) {
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	s := &Store{
		fs:      fs,
		l:       zap.NewNop(),
		entries: make(map[string]*Entry),
	}
	for _, apply := range opts {
		apply(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) String() string {
	const docstore = "docstore"
	switch fs := s.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return docstore
		}
		return docstore + "@" + pp
	default:
		return docstore
	}
}

func (s *Store) load() error {
	b, err := afero.ReadFile(s.fs, IndexFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ErrStore.Wrapf("reading index: %v", err)
	}

	var idx index
	if err = yaml.Unmarshal(b, &idx); err != nil {
		return ErrStore.Wrapf("decoding index: %v", err)
	}
	for i := range idx.Entries {
		e := idx.Entries[i]
		if e.Backup == "" {
			continue
		}
		if ok, _ := afero.Exists(s.fs, e.Backup); !ok {
			s.l.Warn("dropping index entry with missing backup", zap.String("remote", e.Remote), zap.String("backup", e.Backup))
			continue
		}
		s.entries[e.Remote] = &e
	}
	s.l.Debug("loaded document store index", zap.Int("backups", len(s.entries)))
	return nil
}

func (s *Store) saveIndex() error {
	idx := index{Version: indexVersion}
	for _, remote := range s.sortedRemotes() {
		if e := s.entries[remote]; e.Backup != "" {
			idx.Entries = append(idx.Entries, *e)
		}
	}
	b, err := yaml.Marshal(idx)
	if err != nil {
		return ErrStore.Wrapf("encoding index: %v", err)
	}
	return s.writeFile(IndexFile, b)
}

func (s *Store) sortedRemotes() []string {
	remotes := make([]string, 0, len(s.entries))
	for k := range s.entries {
		remotes = append(remotes, k)
	}
	sort.Strings(remotes)
	return remotes
}

// dirFor yields the local directory holding the files of a remote path
func dirFor(remotePath string) string {
	return fmt.Sprintf("%016x", farm.Fingerprint64([]byte(remotePath)))
}

func baseName(remotePath string) (string, error) {
	base := path.Base(filepath.ToSlash(remotePath))
	if base == "." || base == "/" || base == ".." || remotePath == "" {
		return "", ErrInvalidPath.Wrapf("%q", remotePath)
	}
	return base, nil
}

func (s *Store) entry(remotePath string) *Entry {
	e, ok := s.entries[remotePath]
	if !ok {
		e = &Entry{Remote: remotePath}
		s.entries[remotePath] = e
	}
	return e
}

// Stage writes the working copy of a remote document, replacing any previous one
func (s *Store) Stage(remotePath string, content []byte) (string, error) {
	base, err := baseName(remotePath)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	local := filepath.Join(dirFor(remotePath), base)
	if err = s.writeFile(local, content); err != nil {
		return "", err
	}
	s.entry(remotePath).Working = local
	return local, nil
}

// Working reads back the working copy of a remote document
func (s *Store) Working(remotePath string) ([]byte, error) {
	s.mu.Lock()
	e, ok := s.entries[remotePath]
	s.mu.Unlock()
	if !ok || e.Working == "" {
		return nil, ErrStore.Wrapf("no working copy for %q", remotePath)
	}
	b, err := afero.ReadFile(s.fs, e.Working)
	if err != nil {
		return nil, ErrStore.Wrap(err)
	}
	return b, nil
}

// BackupOnce records content as the backup of a remote document, unless one already exists.
//
// The first backup wins: later calls leave it untouched and return its local path.
func (s *Store) BackupOnce(remotePath string, content []byte) (string, error) {
	return s.BackupOnceAs(remotePath, "", content)
}

// BackupOnceAs is like BackupOnce, with a caller-chosen local file name for the backup.
//
// An empty name defaults to "backup-<base>".
func (s *Store) BackupOnceAs(remotePath, name string, content []byte) (string, error) {
	base, err := baseName(remotePath)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(remotePath)
	if e.Backup != "" {
		s.l.Debug("backup already recorded", zap.String("remote", remotePath), zap.String("backup", e.Backup))
		return e.Backup, nil
	}

	if name == "" {
		name = BackupPrefix + base
	}
	name = filepath.Base(name)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", ErrInvalidPath.Wrapf("invalid backup name %q", name)
	}
	if name == base {
		return "", ErrStore.Wrapf("backup name %q collides with the working copy", name)
	}

	local := filepath.Join(dirFor(remotePath), name)
	if err = s.writeFile(local, content); err != nil {
		return "", err
	}
	e.Backup = local
	if err = s.saveIndex(); err != nil {
		return "", err
	}

	s.l.Info("backup recorded", zap.String("remote", remotePath), zap.String("backup", local), zap.Int("size", len(content)))
	return local, nil
}

// HasBackup tells if a backup is recorded for a remote path
func (s *Store) HasBackup(remotePath string) bool {
	_, ok := s.BackupPath(remotePath)
	return ok
}

// BackupPath yields the local path of the backup of a remote document
func (s *Store) BackupPath(remotePath string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[remotePath]
	if !ok || e.Backup == "" {
		return "", false
	}
	return e.Backup, true
}

// Backup reads the backup content of a remote document
func (s *Store) Backup(remotePath string) ([]byte, error) {
	local, ok := s.BackupPath(remotePath)
	if !ok {
		return nil, ErrNoBackup.Wrapf("%q", remotePath)
	}
	b, err := afero.ReadFile(s.fs, local)
	if err != nil {
		return nil, ErrStore.Wrap(err)
	}
	return b, nil
}

// Backups lists the remote paths with a recorded backup, sorted
func (s *Store) Backups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var remotes []string
	for _, remote := range s.sortedRemotes() {
		if s.entries[remote].Backup != "" {
			remotes = append(remotes, remote)
		}
	}
	return remotes
}

// Discard forgets the backup and working copy of a remote document and removes their files
func (s *Store) Discard(remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[remotePath]
	if !ok {
		return nil
	}
	for _, local := range []string{e.Working, e.Backup} {
		if local == "" {
			continue
		}
		if err := s.fs.Remove(local); err != nil && !os.IsNotExist(err) {
			return ErrStore.Wrapf("removing %q: %v", local, err)
		}
	}
	_ = s.fs.Remove(dirFor(remotePath))

	hadBackup := e.Backup != ""
	delete(s.entries, remotePath)
	if hadBackup {
		s.l.Info("backup discarded", zap.String("remote", remotePath))
		return s.saveIndex()
	}
	return nil
}

// writeFile replaces a local file as a whole: content goes to a temporary file first, then is renamed.
func (s *Store) writeFile(local string, content []byte) error {
	dir := filepath.Dir(local)
	if err := s.fs.MkdirAll(dir, 0700); err != nil {
		return ErrStore.Wrapf("ensuring directory for %q: %v", local, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, tempPattern)
	if err != nil {
		return ErrStore.Wrapf("creating temporary file for %q: %v", local, err)
	}
	tmpName := tmp.Name()

	if _, err = io.Copy(tmp, bytes.NewReader(content)); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return ErrStore.Wrapf("writing %q: %v", local, err)
	}
	if err = tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return ErrStore.Wrapf("closing %q: %v", local, err)
	}
	if err = s.fs.Rename(tmpName, local); err != nil {
		_ = s.fs.Remove(tmpName)
		return ErrStore.Wrapf("renaming onto %q: %v", local, err)
	}
	return nil
}
