// Package audit appends domain events to an append-only collection.
// Writes are best-effort: scoring never fails because an audit write did.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coursekit/coursekit-lms/internal/docstore"
)

const (
	EventAttemptSubmitted = "AttemptSubmitted"
	EventEssayGraded      = "EssayGraded"
	EventModuleCompleted  = "ModuleCompleted"
)

type Event struct {
	Type string
	Key  string // natural key: attempt/essay/module id
	Data docstore.Fields
}

type Log struct {
	store docstore.Store
	now   func() time.Time
}

func NewLog(store docstore.Store) *Log {
	return &Log{store: store, now: time.Now}
}

func (l *Log) Append(ctx context.Context, e Event) error {
	if l == nil {
		return nil
	}
	fields := docstore.Fields{
		"type":      e.Type,
		"key":       e.Key,
		"data":      e.Data,
		"createdAt": docstore.ServerTimestamp,
	}
	path := "events/" + l.now().UTC().Format("20060102T150405.000000000") + "-" + uuid.NewString()[:8]
	return l.store.Set(ctx, path, fields, false)
}
