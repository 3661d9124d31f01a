package notion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cartsync/internal/types"
)

// UpdateStatus sets the status select of a task page and, for completion,
// stamps the completion date property.
func (c *Client) UpdateStatus(ctx context.Context, taskID string, status types.Status) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if taskID == "" {
		return errors.New("notion: page id is required")
	}

	var marker string
	switch status {
	case types.StatusCompleted:
		marker = s.CompletedMarker
	case types.StatusPending:
		marker = s.PendingMarker
	default:
		return fmt.Errorf("notion: cannot write status %q", status)
	}

	props := map[string]interface{}{
		s.Properties.Status: map[string]interface{}{
			"select": map[string]string{"name": marker},
		},
	}
	if status == types.StatusCompleted && s.Properties.CompletedAt != "" {
		props[s.Properties.CompletedAt] = map[string]interface{}{
			"date": map[string]string{"start": c.clock.Now().UTC().Format(time.RFC3339)},
		}
	}

	body := map[string]interface{}{"properties": props}
	if err := c.do(ctx, s, "PATCH", "/pages/"+taskID, body, nil); err != nil {
		return fmt.Errorf("update status of %s: %w", taskID, err)
	}

	c.logger.Info("task status updated",
		zap.String("task_id", taskID),
		zap.String("status", marker))
	return nil
}
