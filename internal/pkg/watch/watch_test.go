// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/siderolabs/uki-manager/internal/pkg/watch"
)

func TestWatcher(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	w := &watch.Watcher{
		Dir:      dir,
		Patterns: []string{"vmlinuz-*", "initramfs-*"},
		Debounce: 50 * time.Millisecond,
		Logger:   zaptest.NewLogger(t),
	}

	ctx, cancel := context.WithCancel(t.Context())

	calls := make(chan struct{}, 10)
	errCh := make(chan error, 1)

	go func() {
		errCh <- w.Run(ctx, func(context.Context) error {
			calls <- struct{}{}

			return nil
		})
	}()

	// give the watcher time to start
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated"), []byte("x"), 0o644))

	select {
	case <-calls:
		t.Fatal("unexpected call for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}

	// a burst of changes results in a single call
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vmlinuz-linux"), []byte("kernel"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "initramfs-linux.img"), []byte("initrd"), 0o644))

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the action")
	}

	select {
	case <-calls:
		t.Fatal("changes were not debounced")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()

	require.NoError(t, <-errCh)
}

func TestWatcherMissingDir(t *testing.T) {
	t.Parallel()

	w := &watch.Watcher{Dir: filepath.Join(t.TempDir(), "missing")}

	err := w.Run(t.Context(), func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to add dir watch")
}
