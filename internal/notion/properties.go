package notion

import (
	"encoding/json"
	"strconv"
	"strings"

	"cartsync/internal/config"
	"cartsync/internal/types"
)

// =============================================================================
// PAGE DECODING
// =============================================================================

type page struct {
	ID         string                     `json:"id"`
	Properties map[string]json.RawMessage `json:"properties"`
}

type richText struct {
	PlainText string `json:"plain_text"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text"`
}

type selectOption struct {
	Name string `json:"name"`
}

// property covers the property value shapes the task database uses.
type property struct {
	Type     string        `json:"type"`
	Title    []richText    `json:"title"`
	RichText []richText    `json:"rich_text"`
	URL      *string       `json:"url"`
	Number   *float64      `json:"number"`
	Select   *selectOption `json:"select"`
	Status   *selectOption `json:"status"`
}

func joinText(parts []richText) string {
	var b strings.Builder
	for _, p := range parts {
		if p.PlainText != "" {
			b.WriteString(p.PlainText)
		} else if p.Text != nil {
			b.WriteString(p.Text.Content)
		}
	}
	return b.String()
}

// text renders any text-like property as a plain string.
func (p property) text() string {
	switch p.Type {
	case "title":
		return joinText(p.Title)
	case "rich_text":
		return joinText(p.RichText)
	case "url":
		if p.URL != nil {
			return *p.URL
		}
	case "number":
		if p.Number != nil {
			return strconv.FormatFloat(*p.Number, 'f', -1, 64)
		}
	case "select":
		if p.Select != nil {
			return p.Select.Name
		}
	case "status":
		if p.Status != nil {
			return p.Status.Name
		}
	}
	return ""
}

func (p property) number() int {
	if p.Number != nil {
		return int(*p.Number)
	}
	n, _ := strconv.Atoi(strings.TrimSpace(p.text()))
	return n
}

func (pg page) prop(name string) property {
	var p property
	if name == "" {
		return p
	}
	raw, ok := pg.Properties[name]
	if !ok {
		return p
	}
	_ = json.Unmarshal(raw, &p)
	return p
}

// toTask maps a database row onto a Task.
func (pg page) toTask(s config.NotionConfig) types.Task {
	names := s.Properties
	t := types.Task{
		ID:       pg.ID,
		Title:    strings.TrimSpace(pg.prop(names.Title).text()),
		URL:      strings.TrimSpace(pg.prop(names.URL).text()),
		ASIN:     strings.TrimSpace(pg.prop(names.ASIN).text()),
		Quantity: pg.prop(names.Quantity).number(),
		Status:   types.StatusUnknown,
	}
	switch pg.prop(names.Status).text() {
	case s.PendingMarker:
		t.Status = types.StatusPending
	case s.CompletedMarker:
		t.Status = types.StatusCompleted
	}
	return t
}
