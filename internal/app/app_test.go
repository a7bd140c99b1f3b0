package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idlejob/internal/config"
	"idlejob/internal/storage"
	logx "idlejob/pkg/logx"
)

type fakeNotifier struct {
	mu     sync.Mutex
	states []string
}

func (f *fakeNotifier) notify(state string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return true, nil
}

func (f *fakeNotifier) count(state string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.states {
		if s == state {
			n++
		}
	}
	return n
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "jobd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestAppLifecycleWritesAuditTrail(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.json")
	logPath := filepath.Join(dir, "jobd.log")
	cfgPath := writeConfig(t, dir, `
logging:
  level: info
  console: false
  file:
    enabled: true
    path: `+logPath+`
scheduler:
  unit: 1ms
  max_interval: 3
  idle_priority: false
  shutdown_timeout: 1s
storage:
  driver: file
  path: `+auditPath+`
  retention: 24h
`)

	a, err := New(cfgPath)
	require.NoError(t, err)

	sd := &fakeNotifier{}
	a.sdNotify = sd.notify
	a.sdWatchdog = func() (time.Duration, error) { return 20 * time.Millisecond, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, 1, sd.count(daemon.SdNotifyReady))
	assert.Equal(t, 2, a.Scheduler().Len(), "prune and watchdog jobs")

	var calls atomic.Int64
	fn := func(context.Context, any) bool { calls.Add(1); return false }
	require.NoError(t, a.Scheduler().Add(fn, "host"))

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return sd.count(daemon.SdNotifyWatchdog) >= 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Stop(context.Background(), StopAppStop))
	assert.Equal(t, 1, sd.count(daemon.SdNotifyStopping))
	assert.False(t, a.Scheduler().Running())
	assert.Zero(t, a.Scheduler().Len())

	st, err := storage.Open(storage.Config{Driver: "file", Path: auditPath}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	entries, err := st.ListAudit(context.Background(), 0)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, e := range entries {
		assert.Equal(t, a.Instance(), e.Instance)
		seen[e.Event]++
	}
	assert.Equal(t, 3, seen["job.added"])
	assert.Equal(t, 1, seen["jobs.init"])
	assert.Equal(t, 1, seen["jobs.shutdown"])
	// Newest first: shutdown is the last thing recorded.
	require.NotEmpty(t, entries)
	assert.Equal(t, "jobs.shutdown", entries[0].Event)
	assert.Equal(t, 3, entries[0].Jobs)

	logs, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logs), "app started")
	assert.Contains(t, string(logs), "systemd watchdog enabled")
}

func TestAppWithoutConfigFile(t *testing.T) {
	a, err := New("")
	require.NoError(t, err)
	require.Nil(t, a.cfgm)
	require.Nil(t, a.store)

	a.sdNotify = (&fakeNotifier{}).notify
	a.sdWatchdog = func() (time.Duration, error) { return 0, nil }

	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.Scheduler().Running())
	assert.Zero(t, a.Scheduler().Len())
	assert.NoError(t, a.Err())
	require.NoError(t, a.Stop(context.Background(), StopSIGTERM))

	select {
	case <-a.Done():
	default:
		t.Fatal("Done must be closed after Stop")
	}
}

func TestAppNotifyDisabled(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `
logging:
  level: error
  file:
    enabled: true
    path: `+filepath.Join(dir, "x.log")+`
scheduler:
  idle_priority: false
systemd:
  notify: false
  watchdog: false
`)
	a, err := New(cfgPath)
	require.NoError(t, err)
	sd := &fakeNotifier{}
	a.sdNotify = sd.notify
	a.sdWatchdog = func() (time.Duration, error) { t.Fatal("watchdog must not be probed"); return 0, nil }

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background(), StopSIGINT))
	assert.Empty(t, sd.states)
}

func TestNewRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := New(writeConfig(t, dir, "scheduler:\n  min_interval: 5\n  max_interval: 2\n"))
	require.Error(t, err)

	_, err = New(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestPruneJob(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "a.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, st.AppendAudit(ctx, storage.AuditEntry{At: now.Add(-3 * time.Hour), Event: "old"}))
	require.NoError(t, st.AppendAudit(ctx, storage.AuditEntry{At: now, Event: "new"}))

	p := newPruneJob(st, time.Hour, logx.Nop())
	p.now = func() time.Time { return now }

	assert.True(t, p.Run(ctx), "first run prunes the old row")
	assert.False(t, p.Run(ctx), "throttled within every")

	now = now.Add(pruneEvery)
	assert.False(t, p.Run(ctx), "nothing left to prune")

	left, err := st.ListAudit(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Event)
}

func TestWatchdogJob(t *testing.T) {
	sd := &fakeNotifier{}
	now := time.Unix(1000, 0)
	w := &watchdogJob{notify: sd.notify, every: 5 * time.Second, now: func() time.Time { return now }, log: logx.Nop()}

	ctx := context.Background()
	assert.False(t, w.Run(ctx))
	assert.False(t, w.Run(ctx))
	assert.Equal(t, 1, sd.count(daemon.SdNotifyWatchdog))

	now = now.Add(5 * time.Second)
	w.Run(ctx)
	assert.Equal(t, 2, sd.count(daemon.SdNotifyWatchdog))

	w.notify = func(string) (bool, error) { return false, errors.New("socket gone") }
	now = now.Add(time.Minute)
	assert.False(t, w.Run(ctx))
	assert.Equal(t, uint64(2), w.sent)
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name      string
		in        *config.StorageConfig
		enabled   bool
		driver    string
		retention time.Duration
		wantErr   bool
	}{
		{name: "nil", in: nil},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "a.json", Retention: "2h"}, enabled: true, driver: "file", retention: 2 * time.Hour},
		{name: "sqlite", in: &config.StorageConfig{Driver: "SQLite", Path: "a.db"}, enabled: true, driver: "sqlite"},
		{name: "sqlite no path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad retention", in: &config.StorageConfig{Driver: "file", Retention: "soon"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, enabled, rt, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.enabled, enabled)
			assert.Equal(t, tc.driver, sc.Driver)
			assert.Equal(t, tc.retention, rt)
		})
	}
}

func TestMapSchedulerAndDebugConfig(t *testing.T) {
	off := false
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Unit: "250ms", MinInterval: 2, MaxInterval: 8, IdlePriority: &off},
		Debug:     config.DebugConfig{Enabled: true, Addr: " 127.0.0.1:0 ", ReadTimeout: "3s"},
	}
	j, err := mapSchedulerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, j.Unit)
	assert.Equal(t, 2, j.MinInterval)
	assert.Equal(t, 8, j.MaxInterval)
	assert.False(t, j.IdlePriority)

	d, err := mapDebugConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", d.Addr)
	assert.Equal(t, 3*time.Second, d.ReadTimeout)
	assert.Equal(t, time.Minute, d.IdleTimeout)
	assert.Zero(t, d.WriteTimeout)

	cfg.Debug.WriteTimeout = "later"
	require.Error(t, validateMapped(cfg))
}
