package db

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stockcast/internal/types"
)

// PredictionRepo persists prediction requests and their results.
type PredictionRepo struct {
	db DBTX
}

// NewPredictionRepo creates a PredictionRepo backed by the given connection.
func NewPredictionRepo(db DBTX) *PredictionRepo {
	return &PredictionRepo{db: db}
}

const predictionColumns = `id, user_id, ticker, status, metrics, plot_urls, channel, created_at, updated_at`

func scanPrediction(row pgx.Row) (*types.Prediction, error) {
	var p types.Prediction
	err := row.Scan(&p.ID, &p.UserID, &p.Ticker, &p.Status, &p.Metrics,
		&p.PlotURLs, &p.Channel, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPrediction, "prediction not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load prediction", err)
	}
	return &p, nil
}

// Insert creates a pending prediction row and returns its generated ID.
func (r *PredictionRepo) Insert(ctx context.Context, userID, ticker string, channel types.Channel) (*types.Prediction, error) {
	id := uuid.NewString()
	return scanPrediction(r.db.QueryRow(ctx,
		`INSERT INTO predictions (id, user_id, ticker, status, channel)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+predictionColumns,
		id, userID, ticker, types.PredictionPending, channel))
}

// MarkCompleted records a successful model run against a pending prediction.
func (r *PredictionRepo) MarkCompleted(ctx context.Context, id string, metrics types.JSONB, plotURLs []string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE predictions
		 SET status = $2, metrics = $3, plot_urls = $4, updated_at = NOW()
		 WHERE id = $1 AND status = $5`,
		id, types.PredictionCompleted, metrics, plotURLs, types.PredictionPending)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to complete prediction", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPrediction, "no pending prediction to complete", nil)
	}
	return nil
}

// MarkFailed records a failed model run.
func (r *PredictionRepo) MarkFailed(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE predictions
		 SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, types.PredictionFailed, types.PredictionPending)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark prediction failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPrediction, "no pending prediction to fail", nil)
	}
	return nil
}

// GetByID loads a single prediction.
func (r *PredictionRepo) GetByID(ctx context.Context, id string) (*types.Prediction, error) {
	return scanPrediction(r.db.QueryRow(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE id = $1`, id))
}

// List returns a user's predictions newest-first with keyset pagination.
// The cursor encodes the (created_at, id) of the last row of the previous
// page; ties on created_at are broken by id so no row is skipped or
// repeated across pages.
func (r *PredictionRepo) List(ctx context.Context, filters types.ListFilters) (*types.ListResponse[types.Prediction], error) {
	limit := types.ClampListLimit(filters.Limit)

	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE user_id = $1`
	args := []any{filters.UserID}

	if filters.Ticker != "" {
		args = append(args, filters.Ticker)
		query += fmt.Sprintf(` AND ticker = $%d`, len(args))
	}
	if filters.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(filters.Cursor)
		if err != nil {
			return nil, err
		}
		args = append(args, cursorTime, cursorID)
		query += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}

	// Fetch one extra row to detect whether another page exists.
	args = append(args, limit+1)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list predictions", err)
	}
	defer rows.Close()

	items := make([]types.Prediction, 0, limit)
	for rows.Next() {
		var p types.Prediction
		if err := rows.Scan(&p.ID, &p.UserID, &p.Ticker, &p.Status, &p.Metrics,
			&p.PlotURLs, &p.Channel, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan prediction", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list predictions", err)
	}

	resp := &types.ListResponse[types.Prediction]{Data: items}
	if len(items) > limit {
		resp.Data = items[:limit]
		last := resp.Data[len(resp.Data)-1]
		resp.PageInfo.HasMore = true
		resp.PageInfo.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return resp, nil
}

func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", types.NewAppError(types.ErrCodeValidationMissingField, "malformed pagination cursor", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", types.NewAppError(types.ErrCodeValidationMissingField, "malformed pagination cursor", nil)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", types.NewAppError(types.ErrCodeValidationMissingField, "malformed pagination cursor", err)
	}
	return ts, parts[1], nil
}
