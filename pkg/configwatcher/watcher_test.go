package configwatcher

import (
	"context"
	"k12_agent_backend/internal/config"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatchConfigReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("agent:\n  mastery_smoothing: 0.3\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	reloaded := make(chan *config.Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, file, func(cfg *config.Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// 等待 watcher 注册目录
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(file, []byte("agent:\n  mastery_smoothing: 0.5\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.InDelta(t, 0.5, cfg.Agent.MasterySmoothing, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatchConfigSkipsInvalidReload(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("agent:\n  mastery_smoothing: 0.3\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, file, func(*config.Config) { calls <- struct{}{} })
	}()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(file, []byte("agent:\n  mastery_smoothing: 1.5\n"), 0o644))

	select {
	case <-calls:
		t.Fatal("invalid config must not be applied")
	case <-time.After(debounce + 500*time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}
