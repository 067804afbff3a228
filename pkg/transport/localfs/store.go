// Copyright © 2018 One Concern

// Package localfs implements a transport backed by a local file tree.
//
// Remote paths are resolved against the afero filesystem, which is typically
// a base path filesystem rooted at the directory standing in for the remote host.
package localfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oneconcern/remoteconf/pkg/transport"
	"github.com/oneconcern/remoteconf/pkg/transport/status"
	"github.com/spf13/afero"
)

const putStagePattern = ".remoteconf-put-*"

// New creates a new local file system backed transport
func New(fs afero.Fs) transport.Transport {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &localFS{
		fs: fs,
	}
}

type localFS struct {
	fs afero.Fs
}

func (l *localFS) Fetch(_ context.Context, remotePath string) ([]byte, error) {
	fi, err := l.fs.Stat(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.ErrNotFound.Wrapf("%q", remotePath)
		}
		return nil, status.ErrConnectFailed.Wrap(err)
	}
	if fi.IsDir() {
		return nil, status.ErrNotFound.Wrapf("%q is a directory", remotePath)
	}

	f, err := l.fs.Open(remotePath)
	if err != nil {
		return nil, status.ErrConnectFailed.Wrap(err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, status.ErrTransfer.Wrap(err)
	}
	return content, nil
}

// Push writes content to a staging file next to the target, then renames it into place.
//
// The target keeps its permission bits when it already exists. The target is left untouched
// on failure.
func (l *localFS) Push(_ context.Context, remotePath string, content []byte) error {
	dir := filepath.Dir(remotePath)
	if fi, err := l.fs.Stat(dir); err != nil || !fi.IsDir() {
		return status.Rejected(0, fmt.Sprintf("no directory for %q", remotePath))
	}

	tmp, err := afero.TempFile(l.fs, dir, putStagePattern)
	if err != nil {
		return status.Rejected(0, fmt.Sprintf("create staging file for %q: %v", remotePath, err))
	}
	tmpName := tmp.Name()

	if _, err = io.Copy(tmp, bytes.NewReader(content)); err != nil {
		_ = tmp.Close()
		_ = l.fs.Remove(tmpName)
		return status.ErrAborted.Wrapf("write staging file for %q: %v", remotePath, err)
	}
	if err = tmp.Close(); err != nil {
		_ = l.fs.Remove(tmpName)
		return status.ErrAborted.Wrapf("close staging file for %q: %v", remotePath, err)
	}

	if info, err := l.fs.Stat(remotePath); err == nil {
		_ = l.fs.Chmod(tmpName, info.Mode())
	}

	if err = l.fs.Rename(tmpName, remotePath); err != nil {
		_ = l.fs.Remove(tmpName)
		return status.ErrAborted.Wrapf("rename staging file to %q: %v", remotePath, err)
	}
	return nil
}

func (l *localFS) String() string {
	const localfs = "localfs"
	switch fs := l.fs.(type) {
	case *afero.BasePathFs:
		pp, err := fs.RealPath("")
		if err != nil {
			return localfs
		}
		return localfs + "@" + pp
	default:
		return localfs
	}
}
