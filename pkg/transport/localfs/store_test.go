// Copyright © 2018 One Concern

package localfs

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/oneconcern/remoteconf/pkg/transport"
	"github.com/oneconcern/remoteconf/pkg/transport/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sitePath = "/opt/lens/conf/lens-site.xml"

func setupTransport(t testing.TB) (transport.Transport, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/opt/lens/conf", 0755))
	require.NoError(t, afero.WriteFile(fs, sitePath, []byte("<configuration/>\r\n"), 0640))
	return New(fs), fs
}

func TestFetch(t *testing.T) {
	tr, _ := setupTransport(t)

	b, err := tr.Fetch(context.Background(), sitePath)
	require.NoError(t, err)
	assert.Equal(t, "<configuration/>\r\n", string(b))
}

func TestFetchNotFound(t *testing.T) {
	tr, _ := setupTransport(t)

	_, err := tr.Fetch(context.Background(), "/opt/lens/conf/missing.xml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))

	_, err = tr.Fetch(context.Background(), "/opt/lens/conf")
	assert.True(t, errors.Is(err, status.ErrNotFound))

	ok, err := transport.Exists(context.Background(), tr, "/opt/lens/conf/missing.xml")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPush(t *testing.T) {
	tr, fs := setupTransport(t)

	content := []byte("<configuration>\n  <property/>\n</configuration>\n")
	require.NoError(t, tr.Push(context.Background(), sitePath, content))

	b, err := afero.ReadFile(fs, sitePath)
	require.NoError(t, err)
	assert.Equal(t, content, b)

	fi, err := fs.Stat(sitePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), fi.Mode().Perm())

	entries, err := afero.ReadDir(fs, "/opt/lens/conf")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging files must not be left behind")
}

func TestPushNewFile(t *testing.T) {
	tr, fs := setupTransport(t)

	require.NoError(t, tr.Push(context.Background(), "/opt/lens/conf/hivedriver-site.xml", []byte("x")))
	ok, err := afero.Exists(fs, "/opt/lens/conf/hivedriver-site.xml")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPushMissingDirectory(t *testing.T) {
	tr, _ := setupTransport(t)

	err := tr.Push(context.Background(), "/nowhere/lens-site.xml", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrRemoteRejected))
	assert.False(t, transport.Indeterminate(err))
}

type failingWrites struct {
	afero.Fs
}

func (f failingWrites) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return failingFile{File: file}, nil
}

type failingFile struct {
	afero.File
}

func (failingFile) Write([]byte) (int, error) {
	return 0, io.ErrShortWrite
}

func TestPushStagingFailure(t *testing.T) {
	_, fs := setupTransport(t)
	tr := New(failingWrites{Fs: fs})

	err := tr.Push(context.Background(), sitePath, []byte("<configuration>\n</configuration>\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrAborted))
	assert.False(t, transport.Indeterminate(err))

	b, err := afero.ReadFile(fs, sitePath)
	require.NoError(t, err)
	assert.Equal(t, "<configuration/>\r\n", string(b))

	entries, err := afero.ReadDir(fs, "/opt/lens/conf")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the staging file must be removed")
}

func TestString(t *testing.T) {
	assert.Equal(t, "localfs", New(afero.NewMemMapFs()).String())
	assert.Contains(t, New(afero.NewBasePathFs(afero.NewOsFs(), "/tmp")).String(), "localfs@")
}
