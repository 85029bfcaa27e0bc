package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentialRecorder struct {
	mu    sync.Mutex
	calls [][2]string
}

func (r *credentialRecorder) record(username, password string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]string{username, password})
}

func (r *credentialRecorder) snapshot() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.calls...)
}

func newTestWatcher(t *testing.T, path string, rec *credentialRecorder) *ConfigWatcher {
	t.Helper()
	cfg := Defaults(false)
	cfg.ConfigFile = path
	cfg.EnvFile = isolate(t)
	cfg.Username, cfg.Password = "admin", "old"

	cw, err := NewConfigWatcher(cfg, rec.record)
	require.NoError(t, err)
	cw.debounce = time.Millisecond
	t.Cleanup(cw.Stop)
	return cw
}

func TestHandleEventsAppliesNewCredentials(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fritzmesh", "fritzboxUsername=admin\nfritzboxPassword=old\nfritzboxHost=h\n")

	rec := &credentialRecorder{}
	cw := newTestWatcher(t, path, rec)

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	go cw.handleEvents(events, errs)

	require.NoError(t, os.WriteFile(path, []byte("fritzboxUsername=admin\nfritzboxPassword=new\nfritzboxHost=h\n"), 0600))
	events <- fsnotify.Event{Name: path, Op: fsnotify.Write}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, [2]string{"admin", "new"}, rec.snapshot()[0])

	// Errors are logged, not fatal.
	errs <- errors.New("watch failed")

	// Same content again is not a change.
	events <- fsnotify.Event{Name: path, Op: fsnotify.Write}
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestHandleEventsIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fritzmesh", "fritzboxUsername=admin\nfritzboxPassword=old\n")
	other := writeFile(t, dir, "other", "fritzboxUsername=x\n")

	rec := &credentialRecorder{}
	cw := newTestWatcher(t, path, rec)

	events := make(chan fsnotify.Event)
	go cw.handleEvents(events, make(chan error))

	require.NoError(t, os.WriteFile(path, []byte("fritzboxUsername=admin\nfritzboxPassword=new\n"), 0600))
	events <- fsnotify.Event{Name: other, Op: fsnotify.Write}
	events <- fsnotify.Event{Name: path, Op: fsnotify.Chmod}

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestReloadKeepsCredentialsOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fritzmesh.json", `{"username":"admin","password":"old"}`)

	rec := &credentialRecorder{}
	cw := newTestWatcher(t, path, rec)

	require.NoError(t, os.WriteFile(path, []byte(`{"username":`), 0600))
	cw.reload()
	assert.Empty(t, rec.snapshot())
}

func TestWatcherStartDetectsRealWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fritzmesh", "fritzboxUsername=admin\nfritzboxPassword=old\n")

	rec := &credentialRecorder{}
	cw := newTestWatcher(t, path, rec)
	require.NoError(t, cw.Start())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fritzmesh"), []byte("fritzboxUsername=other\nfritzboxPassword=old\n"), 0600))

	require.Eventually(t, func() bool {
		calls := rec.snapshot()
		return len(calls) > 0 && calls[len(calls)-1] == [2]string{"other", "old"}
	}, 5*time.Second, 20*time.Millisecond)

	cw.Stop()
	cw.Stop()
}

func TestReloadKeepsEnvironmentPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "fritzmesh", "fritzboxUsername=admin\nfritzboxHost=h\n")
	t.Setenv("FRITZMESH_PASSWORD", "from-env")

	cfg, err := Load(Options{ConfigFile: path, EnvFile: isolate(t)})
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Password)

	rec := &credentialRecorder{}
	cw, err := NewConfigWatcher(cfg, rec.record)
	require.NoError(t, err)
	t.Cleanup(cw.Stop)

	cw.ReloadConfig()
	assert.Empty(t, rec.snapshot(), "an unchanged file must not replace environment credentials")

	require.NoError(t, os.WriteFile(path, []byte("fritzboxUsername=other\nfritzboxPassword=file\nfritzboxHost=h\n"), 0600))
	cw.ReloadConfig()
	require.Len(t, rec.snapshot(), 1)
	assert.Equal(t, [2]string{"other", "from-env"}, rec.snapshot()[0])
}
