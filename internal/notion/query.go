package notion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cartsync/internal/config"
	"cartsync/internal/types"
)

const pageSize = 100

type queryRequest struct {
	Filter      interface{} `json:"filter,omitempty"`
	StartCursor string      `json:"start_cursor,omitempty"`
	PageSize    int         `json:"page_size,omitempty"`
}

type queryResponse struct {
	Results    []page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

func selectEquals(prop, value string) map[string]interface{} {
	return map[string]interface{}{
		"property": prop,
		"select":   map[string]string{"equals": value},
	}
}

// query walks every result page of a filtered database query.
func (c *Client) query(ctx context.Context, s config.NotionConfig, filter interface{}, visit func(page)) error {
	path := fmt.Sprintf("/databases/%s/query", s.DatabaseID)
	cursor := ""
	for {
		var resp queryResponse
		req := queryRequest{Filter: filter, StartCursor: cursor, PageSize: pageSize}
		if err := c.do(ctx, s, "POST", path, req, &resp); err != nil {
			return err
		}
		for _, p := range resp.Results {
			visit(p)
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return nil
		}
		cursor = *resp.NextCursor
	}
}

// QueryPending returns every task whose status is the pending marker, in
// store order.
func (c *Client) QueryPending(ctx context.Context) ([]types.Task, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}

	var tasks []types.Task
	filter := selectEquals(s.Properties.Status, s.PendingMarker)
	if err := c.query(ctx, s, filter, func(p page) {
		tasks = append(tasks, p.toTask(s))
	}); err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}

	c.logger.Debug("queried pending tasks", zap.Int("count", len(tasks)))
	return tasks, nil
}

// Stats are the counts shown by `cartsync status`.
type Stats struct {
	Pending    int `json:"pending"`
	AddedToday int `json:"added_today"`
}

// Stats counts pending tasks and tasks completed since local midnight.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	s, err := c.current()
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	if err := c.query(ctx, s, selectEquals(s.Properties.Status, s.PendingMarker), func(page) {
		st.Pending++
	}); err != nil {
		return Stats{}, fmt.Errorf("count pending tasks: %w", err)
	}

	completed := selectEquals(s.Properties.Status, s.CompletedMarker)
	var filter interface{} = completed
	if s.Properties.CompletedAt != "" {
		now := c.clock.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		filter = map[string]interface{}{
			"and": []interface{}{
				completed,
				map[string]interface{}{
					"property": s.Properties.CompletedAt,
					"date":     map[string]string{"after": midnight.Format(time.RFC3339)},
				},
			},
		}
	}
	if err := c.query(ctx, s, filter, func(page) {
		st.AddedToday++
	}); err != nil {
		return Stats{}, fmt.Errorf("count completed tasks: %w", err)
	}
	return st, nil
}
