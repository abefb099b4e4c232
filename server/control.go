// Package server exposes run control over HTTP (dashboard, JSON API and a
// live log websocket) and over gRPC.
package server

import (
	"context"

	"github.com/invoice-relay/store"
)

const Version = "1.0.0"

// Runner starts runs in the background. *ingest.Coordinator satisfies it.
type Runner interface {
	Start(ctx context.Context) error
	Running() bool
}

// LogFeed is the persisted log. *store.Logs satisfies it.
type LogFeed interface {
	Recent(ctx context.Context, limit int) ([]store.LogEntry, error)
	Clear(ctx context.Context) error
}

// AccountStore is the account table. *store.Accounts satisfies it.
type AccountStore interface {
	List(ctx context.Context) ([]store.Account, error)
	Add(ctx context.Context, a store.Account) (int64, error)
	Delete(ctx context.Context, id int64) error
}

const (
	msgStarted        = "Bot started"
	msgAlreadyRunning = "Bot is already running"
)
