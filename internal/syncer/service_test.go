package syncer_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/storage"
	"github.com/rafaeljc/bifrost/internal/syncer"
)

const snapshotV1 = `{"flags": [{"name": "checkout", "status": "ACTIVE", "defaultTreatment": "off", "changeNumber": 1, "conditions": []}]}`

const snapshotV2 = `{"flags": [{"name": "checkout", "status": "ACTIVE", "defaultTreatment": "on", "changeNumber": 2, "conditions": []}]}`

type countingLoader struct {
	mu    sync.Mutex
	loads []string
}

func (l *countingLoader) LoadSnapshot(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads = append(l.loads, string(raw))
	return nil
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.loads)
}

func writeSnapshot(t *testing.T, path, content string, modTime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestService_Sync(t *testing.T) {
	t.Parallel()

	t.Run("Should load only when the file changes", func(t *testing.T) {
		t.Parallel()

		// Arrange
		path := filepath.Join(t.TempDir(), "definitions.json")
		base := time.Now().Add(-time.Hour).Truncate(time.Second)
		writeSnapshot(t, path, snapshotV1, base)

		loader := &countingLoader{}
		svc := syncer.New(nil, syncer.Config{Path: path}, loader)
		ctx := context.Background()

		// Act & Assert
		loaded, err := svc.Sync(ctx)
		require.NoError(t, err)
		assert.True(t, loaded)

		loaded, err = svc.Sync(ctx)
		require.NoError(t, err)
		assert.False(t, loaded, "unchanged file is not reloaded")

		writeSnapshot(t, path, snapshotV2, base.Add(time.Minute))
		loaded, err = svc.Sync(ctx)
		require.NoError(t, err)
		assert.True(t, loaded)

		require.Equal(t, 2, loader.count())
		assert.Equal(t, snapshotV2, loader.loads[1])
	})

	t.Run("Should fail on a missing file", func(t *testing.T) {
		t.Parallel()

		svc := syncer.New(nil, syncer.Config{Path: filepath.Join(t.TempDir(), "missing.json")}, &countingLoader{})

		loaded, err := svc.Sync(context.Background())

		assert.False(t, loaded)
		assert.ErrorContains(t, err, "failed to stat definitions file")
	})

	t.Run("Should retry a file that failed to decode", func(t *testing.T) {
		t.Parallel()

		// Arrange
		path := filepath.Join(t.TempDir(), "definitions.json")
		stamp := time.Now().Add(-time.Hour).Truncate(time.Second)
		writeSnapshot(t, path, `{"flags": [`, stamp)

		mem := storage.NewMemoryStorage(nil)
		svc := syncer.New(nil, syncer.Config{Path: path}, mem)
		ctx := context.Background()

		// Act
		_, err := svc.Sync(ctx)
		require.Error(t, err)

		writeSnapshot(t, path, snapshotV1, stamp.Add(time.Second))
		loaded, err := svc.Sync(ctx)

		// Assert
		require.NoError(t, err)
		assert.True(t, loaded)
		flag, _ := mem.Flag(ctx, "checkout")
		require.NotNil(t, flag)
		assert.Equal(t, int64(1), flag.ChangeNumber)
	})

	t.Run("Should stop on a cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		svc := syncer.New(nil, syncer.Config{Path: "unused"}, &countingLoader{})

		_, err := svc.Sync(ctx)

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestService_Run(t *testing.T) {
	t.Parallel()

	// Arrange
	path := filepath.Join(t.TempDir(), "definitions.json")
	writeSnapshot(t, path, snapshotV1, time.Now().Add(-time.Hour))

	loader := &countingLoader{}
	svc := syncer.New(nil, syncer.Config{Path: path, Interval: time.Second}, loader)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	// Act & Assert
	assert.Eventually(t, func() bool { return loader.count() == 1 }, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestNew_NilLoader(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "syncer: loader cannot be nil", func() {
		syncer.New(nil, syncer.Config{}, nil)
	})
}
