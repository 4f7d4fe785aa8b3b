// Package storage keeps the command audit trail.
//
// It records who asked for what (subscribe, start, stop) and how it ended.
// It is an operator trail only; subscriptions and price state are never
// restored from it.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database at Path (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one handled command.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Command       string    `json:"command"`
	Target        string    `json:"target,omitempty"`
	Outcome       string    `json:"outcome"` // ok, conflict, error
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}

// Store is the persistence API used by the command dispatcher.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}
