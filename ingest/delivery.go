package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/invoice-relay/store"
)

// ErrNoTarget means the account has neither an API key nor a save path.
var ErrNoTarget = errors.New("no delivery target configured")

// Uploader sends a document to the accounting API.
type Uploader interface {
	Upload(ctx context.Context, apiKey, path string) error
}

// Router delivers a downloaded invoice to the account's target. The file
// never stays in the download directory: it is uploaded then deleted, moved,
// or deleted on failure.
type Router struct {
	uploader Uploader
	logger   *slog.Logger
}

func NewRouter(uploader Uploader, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{uploader: uploader, logger: logger}
}

// Deliver routes file to the API when the account has a key, otherwise to
// its save path.
func (r *Router) Deliver(ctx context.Context, invoiceID string, file DownloadedFile, acc store.Account) error {
	switch {
	case acc.HasRemote():
		err := r.uploader.Upload(ctx, acc.APIKey, file.Path)
		r.discard(file.Path)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", invoiceID, err)
		}
		return nil

	case acc.SavePath != "":
		dest, err := saveLocal(file.Path, acc.SavePath, invoiceID)
		if err != nil {
			r.discard(file.Path)
			return fmt.Errorf("failed to save %s: %w", invoiceID, err)
		}
		r.logger.Info("Saved invoice locally", "invoice", invoiceID, "path", dest)
		return nil

	default:
		r.discard(file.Path)
		return fmt.Errorf("%w for account %s", ErrNoTarget, acc.Name)
	}
}

// discard removes path. A failure is logged only.
func (r *Router) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Error("Failed to remove downloaded file", "file", filepath.Base(path), "error", err)
	}
}

// saveLocal moves src into dir as <id><ext>, adding _1, _2, ... until the
// name is free.
func saveLocal(src, dir, invoiceID string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	ext := filepath.Ext(src)

	for i := 0; ; i++ {
		name := invoiceID + ext
		if i > 0 {
			name = invoiceID + "_" + strconv.Itoa(i) + ext
		}
		dest := filepath.Join(dir, name)
		if _, err := os.Lstat(dest); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to check %s: %w", dest, err)
		}

		if err := move(src, dest); err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return "", err
		}
		return dest, nil
	}
}

// move renames src to dest, copying across filesystems when rename cannot.
func move(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to copy to %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to copy to %s: %w", dest, err)
	}
	in.Close()
	return os.Remove(src)
}
