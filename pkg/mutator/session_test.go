// Copyright © 2018 One Concern

package mutator

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/oneconcern/remoteconf/internal/servicetest"
	"github.com/oneconcern/remoteconf/internal/sshtest"
	"github.com/oneconcern/remoteconf/pkg/confdoc"
	"github.com/oneconcern/remoteconf/pkg/docstore"
	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/oneconcern/remoteconf/pkg/remote"
	"github.com/oneconcern/remoteconf/pkg/transport"
	"github.com/oneconcern/remoteconf/pkg/transport/localfs"
	"github.com/oneconcern/remoteconf/pkg/transport/service"
	"github.com/oneconcern/remoteconf/pkg/transport/sftp"
	"github.com/oneconcern/remoteconf/pkg/transport/status"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

const (
	sitePath = "/conf/lens-site.xml"

	// deliberately irregular, so that a restore that re-serializes would be caught
	original = "<?xml version=\"1.0\"?>\r\n<configuration>\r\n\t<property><name>a</name><value>1</value></property>\r\n" +
		"\t<property>\r\n\t\t<name>b</name>\r\n\t\t<value>2</value>\r\n\t</property>\r\n</configuration>"
)

func overrides() *confdoc.Overrides {
	return confdoc.NewOverrides().Set("b", "3").Set("c", "4")
}

func newStore(t *testing.T) *docstore.Store {
	t.Helper()
	store, err := docstore.New(afero.NewMemMapFs())
	require.NoError(t, err)
	return store
}

func localRemote(t *testing.T, files map[string]string) (afero.Fs, transport.Transport) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0755))
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0644))
	}
	return fs, localfs.New(fs)
}

func remoteMap(t *testing.T, content []byte) map[string]string {
	t.Helper()
	doc, err := confdoc.Parse(content)
	require.NoError(t, err)
	return doc.Map()
}

func TestApplyRestore(t *testing.T) {
	fs, tr := localRemote(t, map[string]string{sitePath: original})
	s := New(tr, newStore(t))
	ctx := context.Background()
	assert.Equal(t, Clean, s.State(sitePath))

	require.NoError(t, s.Apply(ctx, sitePath, overrides()))
	assert.Equal(t, Mutated, s.State(sitePath))
	assert.Equal(t, []string{sitePath}, s.Paths())

	mutated, err := afero.ReadFile(fs, sitePath)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, remoteMap(t, mutated))

	require.NoError(t, s.Restore(ctx, sitePath))
	assert.Equal(t, Clean, s.State(sitePath))
	assert.Empty(t, s.Paths())

	restored, err := afero.ReadFile(fs, sitePath)
	require.NoError(t, err)
	assert.Equal(t, original, string(restored), "restore must be byte for byte")
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, remoteMap(t, restored))

	// restoring a clean path is a no-op
	require.NoError(t, s.Restore(ctx, sitePath))
}

func TestFirstBackupWins(t *testing.T) {
	fs, tr := localRemote(t, map[string]string{sitePath: original})
	store := newStore(t)
	s := New(tr, store)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, sitePath, confdoc.NewOverrides().Set("b", "3")))
	require.NoError(t, s.Apply(ctx, sitePath, confdoc.NewOverrides().Set("c", "4")))

	current, err := afero.ReadFile(fs, sitePath)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, remoteMap(t, current), "second apply starts from the remote content")

	backup, err := store.Backup(sitePath)
	require.NoError(t, err)
	assert.Equal(t, original, string(backup))

	working, err := store.Working(sitePath)
	require.NoError(t, err)
	assert.Equal(t, current, working)

	require.NoError(t, s.Restore(ctx, sitePath))
	restored, err := afero.ReadFile(fs, sitePath)
	require.NoError(t, err)
	assert.Equal(t, original, string(restored))
}

func TestBackupName(t *testing.T) {
	_, tr := localRemote(t, map[string]string{sitePath: original})
	store := newStore(t)
	s := New(tr, store)

	require.NoError(t, s.Apply(context.Background(), sitePath, overrides(), BackupName("lens-site.orig")))
	local, ok := store.BackupPath(sitePath)
	require.True(t, ok)
	assert.Equal(t, "lens-site.orig", filepath.Base(local))
}

func TestRestoreWithoutBackup(t *testing.T) {
	_, tr := localRemote(t, map[string]string{sitePath: original})

	require.NoError(t, New(tr, newStore(t)).Restore(context.Background(), sitePath))

	err := New(tr, newStore(t), Strict(true)).Restore(context.Background(), sitePath)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoBackupToRestore))
}

func TestApplyFailuresLeaveRemoteUntouched(t *testing.T) {
	const broken = "<configuration><property>"
	fs, tr := localRemote(t, map[string]string{sitePath: original, "/conf/broken.xml": broken})
	store := newStore(t)
	s := New(tr, store)
	ctx := context.Background()

	err := s.Apply(ctx, "/conf/broken.xml", overrides())
	require.Error(t, err)
	assert.True(t, errors.Is(err, confdoc.ErrInvalidDocument))
	assert.False(t, store.HasBackup("/conf/broken.xml"))

	err = s.Apply(ctx, sitePath, confdoc.NewOverrides().Set("b", "\x01"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, confdoc.ErrSerializeFailed))
	assert.Equal(t, Clean, s.State(sitePath))

	err = s.Apply(ctx, "/conf/missing.xml", overrides())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotFound))

	current, err := afero.ReadFile(fs, sitePath)
	require.NoError(t, err)
	assert.Equal(t, original, string(current))
}

func TestServiceRejectedPush(t *testing.T) {
	srv := servicetest.New(t)
	srv.WriteFile(t, sitePath, []byte(original))
	tr, err := service.New(srv.URL)
	require.NoError(t, err)

	s := New(tr, newStore(t))
	ctx := context.Background()

	srv.FailUploads(http.StatusInternalServerError)
	err = s.Apply(ctx, sitePath, overrides())
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrRemoteRejected))
	assert.False(t, errors.Is(err, ErrPushIndeterminate))
	code, ok := status.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, original, string(srv.ReadFile(t, sitePath)))
	assert.Equal(t, Mutated, s.State(sitePath), "the backup is kept")

	srv.FailUploads(0)
	require.NoError(t, s.Restore(ctx, sitePath))
	assert.Equal(t, original, string(srv.ReadFile(t, sitePath)))
	assert.Equal(t, 1, srv.Uploads())
}

func TestIndeterminatePush(t *testing.T) {
	srv := servicetest.New(t)
	srv.WriteFile(t, sitePath, []byte(original))
	tr, err := service.New(srv.URL)
	require.NoError(t, err)

	metrics, err := NewMetrics(nil)
	require.NoError(t, err)
	s := New(tr, newStore(t), WithMetrics(metrics))
	ctx := context.Background()

	srv.DropUploads(true)
	err = s.Apply(ctx, sitePath, overrides())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPushIndeterminate))
	assert.True(t, errors.Is(err, status.ErrTransfer))
	assert.Equal(t, Indeterminate, s.State(sitePath))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.indeterminate))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("apply", outcomeIndeterminate)))

	srv.DropUploads(false)
	err = s.Apply(ctx, sitePath, overrides())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndeterminate))

	require.NoError(t, s.Restore(ctx, sitePath))
	assert.Equal(t, Clean, s.State(sitePath))
	assert.Equal(t, original, string(srv.ReadFile(t, sitePath)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.indeterminate))
}

func TestRestoreAll(t *testing.T) {
	const other = "/other/hive-site.xml"
	fs, tr := localRemote(t, map[string]string{sitePath: original, other: original})
	s := New(tr, newStore(t))
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, sitePath, overrides()))
	require.NoError(t, s.Apply(ctx, other, overrides()))

	require.NoError(t, fs.RemoveAll("/other"))

	err := s.RestoreAll(ctx)
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], status.ErrRemoteRejected))

	assert.Equal(t, Clean, s.State(sitePath))
	assert.Equal(t, Mutated, s.State(other))
	restored, err := afero.ReadFile(fs, sitePath)
	require.NoError(t, err)
	assert.Equal(t, original, string(restored))
}

func TestDiscard(t *testing.T) {
	fs, tr := localRemote(t, map[string]string{sitePath: original})
	s := New(tr, newStore(t))
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, sitePath, overrides()))
	require.NoError(t, s.Discard(sitePath))
	assert.Equal(t, Clean, s.State(sitePath))

	current, err := afero.ReadFile(fs, sitePath)
	require.NoError(t, err)
	assert.Equal(t, "3", remoteMap(t, current)["b"])
}

func TestPreviewAndProperties(t *testing.T) {
	fs, tr := localRemote(t, map[string]string{sitePath: original})
	store := newStore(t)
	s := New(tr, store)
	ctx := context.Background()

	before, after, err := s.Preview(ctx, sitePath, overrides())
	require.NoError(t, err)
	assert.Equal(t, original, string(before))
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, remoteMap(t, after))
	assert.False(t, store.HasBackup(sitePath))

	props, err := s.Properties(ctx, sitePath)
	require.NoError(t, err)
	assert.Equal(t, []confdoc.Property{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, props)

	current, err := afero.ReadFile(fs, sitePath)
	require.NoError(t, err)
	assert.Equal(t, original, string(current))
}

func TestApplyAndRestart(t *testing.T) {
	const restart = "lens-ctl restart"
	srv := servicetest.New(t)
	srv.WriteFile(t, sitePath, []byte(original))
	srv.Handle(restart, servicetest.Result{Stdout: "started\n"})

	tr, err := service.New(srv.URL)
	require.NoError(t, err)
	runner, err := remote.NewService(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = New(tr, newStore(t)).ApplyAndRestart(ctx, sitePath, overrides(), restart)
	assert.True(t, errors.Is(err, ErrNoRunner))

	s := New(tr, newStore(t), WithRunner(runner))

	srv.DropUploads(true)
	_, err = s.ApplyAndRestart(ctx, sitePath, overrides(), restart)
	require.Error(t, err)
	assert.Empty(t, srv.Executed(), "no restart after a failed apply")
	srv.DropUploads(false)
	require.NoError(t, s.Restore(ctx, sitePath))

	out, err := s.ApplyAndRestart(ctx, sitePath, overrides(), restart)
	require.NoError(t, err)
	assert.Equal(t, "started\n", out)
	assert.Equal(t, []string{restart}, srv.Executed())
	assert.Equal(t, "4", remoteMap(t, srv.ReadFile(t, sitePath))["c"])
}

func TestMetrics(t *testing.T) {
	_, tr := localRemote(t, map[string]string{sitePath: original})
	metrics, err := NewMetrics(nil)
	require.NoError(t, err)
	s := New(tr, newStore(t), WithMetrics(metrics))
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, sitePath, overrides()))
	require.NoError(t, s.Apply(ctx, sitePath, overrides()))
	require.Error(t, s.Apply(ctx, "/conf/missing.xml", overrides()))
	require.NoError(t, s.Restore(ctx, sitePath))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.operations.WithLabelValues("apply", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("apply", outcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("restore", outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.backups))
}

// TestTransportParity runs the same mutation through every backend and compares the outcome.
func TestTransportParity(t *testing.T) {
	ctx := context.Background()

	sshServer := sshtest.New(t)
	sshPath := filepath.Join(t.TempDir(), "lens-site.xml")
	require.NoError(t, os.WriteFile(sshPath, []byte(original), 0644))

	svc := servicetest.New(t)
	svc.WriteFile(t, sitePath, []byte(original))
	svcTransport, err := service.New(svc.URL)
	require.NoError(t, err)

	localFs, localTransport := localRemote(t, map[string]string{sitePath: original})

	type backend struct {
		name   string
		t      transport.Transport
		path   string
		remote func() []byte
	}
	backends := []backend{
		{name: "sftp", t: sftp.New(sshServer.Config()), path: sshPath, remote: func() []byte {
			b, e := os.ReadFile(sshPath)
			require.NoError(t, e)
			return b
		}},
		{name: "service", t: svcTransport, path: sitePath, remote: func() []byte {
			return svc.ReadFile(t, sitePath)
		}},
		{name: "localfs", t: localTransport, path: sitePath, remote: func() []byte {
			b, e := afero.ReadFile(localFs, sitePath)
			require.NoError(t, e)
			return b
		}},
	}

	var mutated [][]byte
	for _, b := range backends {
		s := New(b.t, newStore(t))
		require.NoError(t, s.Apply(ctx, b.path, overrides()), b.name)
		content := b.remote()
		assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, remoteMap(t, content), b.name)
		mutated = append(mutated, content)

		require.NoError(t, s.Restore(ctx, b.path), b.name)
		assert.Equal(t, original, string(b.remote()), b.name)
	}
	for i := 1; i < len(mutated); i++ {
		assert.Equal(t, string(mutated[0]), string(mutated[i]), backends[i].name)
	}
}
