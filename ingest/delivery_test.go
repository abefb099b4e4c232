package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoice-relay/logging"
	"github.com/invoice-relay/store"
)

func downloaded(t *testing.T, dir, name string) DownloadedFile {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF "+name), 0644))
	return DownloadedFile{Path: path, CreatedAt: time.Now()}
}

func TestDeliverRemote(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{}
	r := NewRouter(up, logging.Discard())

	file := downloaded(t, dir, "print.pdf")
	acc := store.Account{Name: "a", APIKey: "k1", SavePath: filepath.Join(dir, "out")}
	require.NoError(t, r.Deliver(context.Background(), "S-1", file, acc))

	require.Len(t, up.uploads, 1)
	assert.Equal(t, "k1", up.uploads[0].apiKey)
	assert.Equal(t, "%PDF print.pdf", up.uploads[0].content)
	assert.NoFileExists(t, file.Path)
	// remote wins, nothing saved locally
	assert.NoDirExists(t, acc.SavePath)
}

func TestDeliverRemoteFailureDiscardsFile(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("upload rejected: status 401")
	r := NewRouter(&fakeUploader{err: boom}, logging.Discard())

	file := downloaded(t, dir, "print.pdf")
	err := r.Deliver(context.Background(), "S-1", file, store.Account{Name: "a", APIKey: "bad"})
	require.ErrorIs(t, err, boom)
	assert.NoFileExists(t, file.Path)
}

func TestDeliverLocalCollisionNames(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	r := NewRouter(&fakeUploader{}, logging.Discard())
	acc := store.Account{Name: "b", SavePath: out}

	for i := 0; i < 3; i++ {
		file := downloaded(t, dir, "print.pdf")
		require.NoError(t, r.Deliver(context.Background(), "S-102", file, acc))
		assert.NoFileExists(t, file.Path)
	}

	assert.ElementsMatch(t, []string{"S-102.pdf", "S-102_1.pdf", "S-102_2.pdf"}, dirEntries(t, out))
	data, err := os.ReadFile(filepath.Join(out, "S-102.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF print.pdf", string(data))
}

func TestDeliverLocalFailureDiscardsFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	r := NewRouter(&fakeUploader{}, logging.Discard())
	file := downloaded(t, dir, "print.pdf")
	err := r.Deliver(context.Background(), "S-1", file, store.Account{Name: "b", SavePath: filepath.Join(blocker, "out")})
	require.Error(t, err)
	assert.NoFileExists(t, file.Path)
}

func TestDeliverWithoutTarget(t *testing.T) {
	dir := t.TempDir()
	r := NewRouter(&fakeUploader{}, logging.Discard())

	file := downloaded(t, dir, "print.pdf")
	err := r.Deliver(context.Background(), "S-1", file, store.Account{Name: "c"})
	require.ErrorIs(t, err, ErrNoTarget)
	assert.NoFileExists(t, file.Path)
}

func TestMoveKeepsExtension(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "download.PDF")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	dest, err := saveLocal(src, filepath.Join(dir, "out"), "S-9")
	require.NoError(t, err)
	assert.Equal(t, "S-9.PDF", filepath.Base(dest))
}
