package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pos-gateway/internal/models"

	"github.com/jmoiron/sqlx/types"
)

// AppendSyncLog inserts an audit entry. Entries are never updated.
func (s *Store) AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	request, err := marshalNullable(entry.RequestData)
	if err != nil {
		return fmt.Errorf("failed to encode request data: %w", err)
	}
	response, err := marshalNullable(entry.ResponseData)
	if err != nil {
		return fmt.Errorf("failed to encode response data: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO sync_logs (type, action, restaurant_id, pos_vendor, request_data,
		                       response_data, error, duration_ms, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9)
		RETURNING id`

	return s.db.QueryRowxContext(ctx, query,
		entry.Type, entry.Action, entry.RestaurantID, entry.POSVendor, request, response,
		entry.Error, entry.Duration.Milliseconds(), createdAt,
	).Scan(&entry.ID)
}

func marshalNullable(v any) (types.NullJSONText, error) {
	if v == nil {
		return types.NullJSONText{}, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return types.NullJSONText{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return types.NullJSONText{}, err
	}
	return types.NullJSONText{JSONText: types.JSONText(b), Valid: true}, nil
}
