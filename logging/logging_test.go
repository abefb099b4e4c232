package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoice-relay/store"
)

type memSink struct {
	mu      sync.Mutex
	entries []store.LogEntry
	err     error
}

func (m *memSink) Append(_ context.Context, level store.Level, message string, at time.Time) (store.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return store.LogEntry{}, m.err
	}
	e := store.LogEntry{
		ID:        int64(len(m.entries) + 1),
		Timestamp: at.Format(store.TimestampLayout),
		Level:     level,
		Message:   message,
	}
	m.entries = append(m.entries, e)
	return e, nil
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestSinkHandlerLevels(t *testing.T) {
	sink := &memSink{}
	var out bytes.Buffer
	var published []store.LogEntry
	logger := New(Options{
		Level:   slog.LevelDebug,
		Output:  &out,
		Sink:    sink,
		OnEntry: func(e store.LogEntry) { published = append(published, e) },
	})

	logger.Debug("probing")
	logger.Info("Processing account", "account", "north")
	logger.Warn("Download timeout", "invoice", "S-100")
	logger.Error("Upload failed")

	require.Len(t, sink.entries, 3)
	assert.Equal(t, store.LevelInfo, sink.entries[0].Level)
	assert.Equal(t, "Processing account account=north", sink.entries[0].Message)
	assert.Equal(t, store.LevelError, sink.entries[1].Level)
	assert.Equal(t, "Download timeout invoice=S-100", sink.entries[1].Message)
	assert.Equal(t, store.LevelError, sink.entries[2].Level)
	assert.Equal(t, sink.entries, published)

	assert.Contains(t, out.String(), "probing")
	assert.Contains(t, out.String(), "Upload failed")
}

func TestSinkHandlerAttrsAndGroups(t *testing.T) {
	sink := &memSink{}
	logger := New(Options{Output: &bytes.Buffer{}, Sink: sink})

	logger.With("run", "r1").WithGroup("row").Info("Skipped", "id", "S-1")

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "Skipped run=r1 row.id=S-1", sink.entries[0].Message)
}

func TestSinkHandlerPersistsInfoAboveProcessLevel(t *testing.T) {
	sink := &memSink{}
	var out bytes.Buffer
	logger := New(Options{Level: slog.LevelError, Output: &out, Sink: sink})

	logger.Info("Bot started")

	require.Len(t, sink.entries, 1)
	assert.Empty(t, out.String())
}

func TestSinkHandlerFailureIsReported(t *testing.T) {
	sink := &memSink{err: errors.New("database is locked")}
	var out bytes.Buffer
	logger := New(Options{Output: &out, Sink: sink})

	logger.Info("hello")

	assert.Contains(t, out.String(), "hello")
	assert.Contains(t, out.String(), "failed to persist log entry")
	assert.Contains(t, out.String(), "database is locked")
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	require.Equal(t, 1, b.Subscribers())

	b.Publish(store.LogEntry{ID: 1, Message: "first"})
	// buffer full: dropped, not blocked
	b.Publish(store.LogEntry{ID: 2, Message: "second"})

	got := <-ch
	assert.Equal(t, "first", got.Message)

	cancel()
	cancel()
	assert.Equal(t, 0, b.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}

func TestOpenFile(t *testing.T) {
	path := t.TempDir() + "/logs/app.log"
	f, err := OpenFile(path)
	require.NoError(t, err)
	_, err = f.WriteString("line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
