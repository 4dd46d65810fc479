package postgres

import (
	"context"
	"time"

	"trade-reconciliation-engine/internal/models"
	"trade-reconciliation-engine/pkg/errors"
)

// CommentRepo implements store.CommentStore.
type CommentRepo struct {
	q       queryer
	timeout time.Duration
}

func (r *CommentRepo) AddComment(ctx context.Context, comment *models.BreakComment) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.q.QueryRowxContext(ctx,
		`INSERT INTO break_comments (break_id, author, comment)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		comment.BreakID, comment.Author, comment.Comment)
	if err := row.Scan(&comment.ID, &comment.CreatedAt); err != nil {
		return errors.StorageError(errors.CodeQueryFailed, "add comment", err)
	}
	return nil
}

func (r *CommentRepo) ListComments(ctx context.Context, breakID int64) ([]*models.BreakComment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var comments []*models.BreakComment
	err := r.q.SelectContext(ctx, &comments,
		`SELECT id, break_id, author, comment, created_at
		 FROM break_comments WHERE break_id = $1 ORDER BY created_at, id`,
		breakID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeQueryFailed, "list comments", err)
	}
	return comments, nil
}
