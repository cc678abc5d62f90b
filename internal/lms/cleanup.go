package lms

import (
	"context"
	"errors"
	"log/slog"

	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/storage"
)

// Cleaner removes a quiz and everything hanging off it: questions, essay
// submissions, every student's rollup with its attempt children, and any
// uploaded images. Deletes are chunked batches looping until the queries
// come back empty, so collection size is unbounded. Nothing here is
// transactional; a crash mid-way leaves orphans that a re-run removes.
type Cleaner struct {
	store docstore.Store
	blobs storage.BlobStore
	log   *slog.Logger
}

func NewCleaner(store docstore.Store, blobs storage.BlobStore, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{store: store, blobs: blobs, log: logger}
}

// DeleteQuiz cascades the delete. Blob cleanup failures are logged and
// swallowed; the quiz document goes last so a retry can find it again.
func (c *Cleaner) DeleteQuiz(ctx context.Context, quizID string) error {
	if _, err := c.store.Get(ctx, QuizPath(quizID)); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := c.drainCollection(ctx, docstore.Query{Path: QuizPath(quizID) + "/" + SubQuestions}); err != nil {
		return err
	}
	if err := c.drainCollection(ctx, docstore.Query{
		Path:    CollEssaySubs,
		Filters: []docstore.Filter{{Field: "quizId", Op: docstore.OpEqual, Value: quizID}},
	}); err != nil {
		return err
	}
	if err := c.deleteRollups(ctx, quizID); err != nil {
		return err
	}

	if c.blobs != nil {
		if err := c.blobs.DeleteByPrefix("quizzes/" + quizID); err != nil {
			rerr := &RecoverableError{Op: "delete quiz assets", Err: err}
			c.log.Warn("blob cleanup failed", "quizId", quizID, "err", rerr)
		}
	}

	return c.store.Delete(ctx, QuizPath(quizID))
}

// deleteRollups finds every (user,quiz) rollup via a collection-group query
// and removes each with its attempt children first.
func (c *Cleaner) deleteRollups(ctx context.Context, quizID string) error {
	for {
		rollups, err := c.store.Query(ctx, docstore.Query{
			Path:    SubQuizAttempts,
			Group:   true,
			Filters: []docstore.Filter{{Field: "quizId", Op: docstore.OpEqual, Value: quizID}},
			Limit:   docstore.MaxBatchOps,
		})
		if err != nil {
			return err
		}
		if len(rollups) == 0 {
			return nil
		}
		for _, r := range rollups {
			if err := c.drainCollection(ctx, docstore.Query{Path: r.Path + "/" + SubAttempts}); err != nil {
				return err
			}
			if err := c.store.Delete(ctx, r.Path); err != nil {
				return err
			}
		}
	}
}

// drainCollection deletes every document a query matches, in batch-sized
// pages, until the query returns empty.
func (c *Cleaner) drainCollection(ctx context.Context, q docstore.Query) error {
	q.Limit = docstore.MaxBatchOps
	for {
		docs, err := c.store.Query(ctx, q)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		b := c.store.Batch()
		for _, d := range docs {
			b.Delete(d.Path)
		}
		if err := b.Commit(ctx); err != nil {
			return err
		}
	}
}
