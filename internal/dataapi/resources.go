package dataapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// EventFilter narrows GET /events.
type EventFilter struct {
	Month   int
	Year    int
	TopicID int
}

func (f EventFilter) values() url.Values {
	q := url.Values{}
	if f.Month > 0 {
		q.Set("month", strconv.Itoa(f.Month))
	}
	if f.Year > 0 {
		q.Set("year", strconv.Itoa(f.Year))
	}
	if f.TopicID > 0 {
		q.Set("topic_id", strconv.Itoa(f.TopicID))
	}
	return q
}

// ListTopics returns all topics.
func (c *Client) ListTopics(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/topics", nil, nil)
}

// GetTopic returns one topic including its related events.
func (c *Client) GetTopic(ctx context.Context, id int) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, idPath("/topics", id), nil, nil)
}

// ListEvents returns schedule events matching the filter.
func (c *Client) ListEvents(ctx context.Context, f EventFilter) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/events", f.values(), nil)
}

// GetHomepage returns the homepage content block.
func (c *Client) GetHomepage(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/homepage", nil, nil)
}

// UpdateHomepage replaces homepage fields.
func (c *Client) UpdateHomepage(ctx context.Context, fields map[string]any) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPut, "/homepage", nil, fields)
}

// ListBlessings returns blessings; featured filters when non-nil.
func (c *Client) ListBlessings(ctx context.Context, featured *bool) (json.RawMessage, error) {
	var q url.Values
	if featured != nil {
		q = url.Values{"featured": {strconv.FormatBool(*featured)}}
	}
	return c.Do(ctx, http.MethodGet, "/blessings", q, nil)
}

// CreateBlessing adds a blessing.
func (c *Client) CreateBlessing(ctx context.Context, fields map[string]any) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, "/blessings", nil, fields)
}

// UpdateBlessing changes a blessing.
func (c *Client) UpdateBlessing(ctx context.Context, id int, fields map[string]any) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPut, idPath("/blessings", id), nil, fields)
}

// DeleteBlessing removes a blessing.
func (c *Client) DeleteBlessing(ctx context.Context, id int) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodDelete, idPath("/blessings", id), nil, nil)
}

// GetImpact returns the computed impact statistics.
func (c *Client) GetImpact(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/impact", nil, nil)
}

// GetImpactConfig returns the editable impact configuration.
func (c *Client) GetImpactConfig(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/impact-config", nil, nil)
}

// UpdateImpactConfig replaces impact configuration fields.
func (c *Client) UpdateImpactConfig(ctx context.Context, fields map[string]any) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPut, "/impact-config", nil, fields)
}

// ListGallery returns gallery images, optionally by category.
func (c *Client) ListGallery(ctx context.Context, category string) (json.RawMessage, error) {
	var q url.Values
	if category != "" {
		q = url.Values{"category": {category}}
	}
	return c.Do(ctx, http.MethodGet, "/gallery", q, nil)
}

// RandomGallery returns count random images.
func (c *Client) RandomGallery(ctx context.Context, count int, category string) (json.RawMessage, error) {
	q := url.Values{}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	if category != "" {
		q.Set("category", category)
	}
	return c.Do(ctx, http.MethodGet, "/gallery/random", q, nil)
}

// UpdateGalleryItem changes image metadata.
func (c *Client) UpdateGalleryItem(ctx context.Context, id int, fields map[string]any) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPut, idPath("/gallery", id), nil, fields)
}

// DeleteGalleryItem soft-deletes an image.
func (c *Client) DeleteGalleryItem(ctx context.Context, id int) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodDelete, idPath("/gallery", id), nil, nil)
}
