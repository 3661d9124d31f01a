package notion

import (
	"context"
	"fmt"
)

type database struct {
	ID         string                 `json:"id"`
	Properties map[string]interface{} `json:"properties"`
}

// CheckSchema fetches the database and returns the required properties it
// lacks. An empty result means the database is usable.
func (c *Client) CheckSchema(ctx context.Context) ([]string, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}

	var db database
	if err := c.do(ctx, s, "GET", "/databases/"+s.DatabaseID, nil, &db); err != nil {
		return nil, fmt.Errorf("fetch database: %w", err)
	}

	var missing []string
	for _, name := range s.Properties.Required() {
		if _, ok := db.Properties[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
