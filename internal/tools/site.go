package tools

import (
	"context"
	"encoding/json"

	"github.com/memorialsite/agentgw/internal/dataapi"
)

// SiteAPI is the slice of the Data API the site tools need.
type SiteAPI interface {
	ListTopics(ctx context.Context) (json.RawMessage, error)
	GetTopic(ctx context.Context, id int) (json.RawMessage, error)
	ListEvents(ctx context.Context, f dataapi.EventFilter) (json.RawMessage, error)
	GetHomepage(ctx context.Context) (json.RawMessage, error)
	UpdateHomepage(ctx context.Context, fields map[string]any) (json.RawMessage, error)
	ListBlessings(ctx context.Context, featured *bool) (json.RawMessage, error)
	CreateBlessing(ctx context.Context, fields map[string]any) (json.RawMessage, error)
	UpdateBlessing(ctx context.Context, id int, fields map[string]any) (json.RawMessage, error)
	DeleteBlessing(ctx context.Context, id int) (json.RawMessage, error)
	GetImpact(ctx context.Context) (json.RawMessage, error)
	GetImpactConfig(ctx context.Context) (json.RawMessage, error)
	UpdateImpactConfig(ctx context.Context, fields map[string]any) (json.RawMessage, error)
	ListGallery(ctx context.Context, category string) (json.RawMessage, error)
	RandomGallery(ctx context.Context, count int, category string) (json.RawMessage, error)
	UpdateGalleryItem(ctx context.Context, id int, fields map[string]any) (json.RawMessage, error)
	DeleteGalleryItem(ctx context.Context, id int) (json.RawMessage, error)
}

type siteTool struct {
	name        string
	description string
	schema      Schema
	tier        int
	run         func(ctx context.Context, p map[string]any) (json.RawMessage, error)
}

func (t *siteTool) Name() string        { return t.name }
func (t *siteTool) Description() string { return t.description }
func (t *siteTool) Schema() Schema      { return t.schema }
func (t *siteTool) Tier() int           { return t.tier }

func (t *siteTool) Execute(ctx context.Context, p map[string]any) (json.RawMessage, error) {
	return t.run(ctx, p)
}

var idParam = Param{Kind: KindInteger, Description: "Numeric record id", Required: true}

// SiteTools declares the fixed tool set over the Data API.
func SiteTools(api SiteAPI) []Tool {
	return []Tool{
		&siteTool{
			name:        "list_topics",
			description: "List all commemorative topics.",
			schema:      Schema{},
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.ListTopics(ctx)
			},
		},
		&siteTool{
			name:        "get_topic",
			description: "Get one topic with its related events.",
			schema:      Schema{"id": idParam},
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.GetTopic(ctx, GetInt(p, "id", 0))
			},
		},
		&siteTool{
			name:        "list_events",
			description: "List schedule events, optionally filtered by month, year and topic.",
			schema: Schema{
				"month":    {Kind: KindInteger, Description: "Month 1-12"},
				"year":     {Kind: KindInteger, Description: "Four digit year"},
				"topic_id": {Kind: KindInteger, Description: "Only events of this topic"},
			},
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.ListEvents(ctx, dataapi.EventFilter{
					Month:   GetInt(p, "month", 0),
					Year:    GetInt(p, "year", 0),
					TopicID: GetInt(p, "topic_id", 0),
				})
			},
		},
		&siteTool{
			name:        "get_homepage",
			description: "Get the homepage content.",
			schema:      Schema{},
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.GetHomepage(ctx)
			},
		},
		&siteTool{
			name:        "update_homepage",
			description: "Update homepage fields such as title, subtitle or hero text.",
			schema: Schema{
				"fields": {Kind: KindObject, Description: "Homepage fields to set", Required: true},
			},
			tier: TierWrite,
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.UpdateHomepage(ctx, objectParam(p, "fields"))
			},
		},
		&siteTool{
			name:        "list_blessings",
			description: "List blessing messages. Set featured to only return featured ones.",
			schema: Schema{
				"featured": {Kind: KindBoolean, Description: "Only featured blessings"},
			},
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				var featured *bool
				if v, ok := p["featured"].(bool); ok {
					featured = &v
				}
				return api.ListBlessings(ctx, featured)
			},
		},
		&siteTool{
			name:        "create_blessing",
			description: "Create a blessing message.",
			schema: Schema{
				"author":   {Kind: KindString, Description: "Name shown with the blessing", Required: true},
				"content":  {Kind: KindString, Description: "Blessing text", Required: true},
				"featured": {Kind: KindBoolean, Description: "Show on the homepage"},
			},
			tier: TierWrite,
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				fields := map[string]any{
					"author":  GetString(p, "author", ""),
					"content": GetString(p, "content", ""),
				}
				if v, ok := p["featured"].(bool); ok {
					fields["featured"] = v
				}
				return api.CreateBlessing(ctx, fields)
			},
		},
		&siteTool{
			name:        "update_blessing",
			description: "Update fields of a blessing.",
			schema: Schema{
				"id":     idParam,
				"fields": {Kind: KindObject, Description: "Fields to set (author, content, featured)", Required: true},
			},
			tier: TierWrite,
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.UpdateBlessing(ctx, GetInt(p, "id", 0), objectParam(p, "fields"))
			},
		},
		&siteTool{
			name:        "delete_blessing",
			description: "Delete a blessing.",
			schema:      Schema{"id": idParam},
			tier:        TierWrite,
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.DeleteBlessing(ctx, GetInt(p, "id", 0))
			},
		},
		&siteTool{
			name:        "get_impact",
			description: "Get the impact statistics shown on the site.",
			schema:      Schema{},
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.GetImpact(ctx)
			},
		},
		&siteTool{
			name:        "get_impact_config",
			description: "Get the editable impact configuration.",
			schema:      Schema{},
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.GetImpactConfig(ctx)
			},
		},
		&siteTool{
			name:        "update_impact_config",
			description: "Update the impact configuration.",
			schema: Schema{
				"fields": {Kind: KindObject, Description: "Configuration fields to set", Required: true},
			},
			tier: TierWrite,
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.UpdateImpactConfig(ctx, objectParam(p, "fields"))
			},
		},
		&siteTool{
			name:        "list_gallery",
			description: "List gallery images, optionally by category.",
			schema: Schema{
				"category": {Kind: KindString, Description: "Gallery category"},
			},
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.ListGallery(ctx, GetString(p, "category", ""))
			},
		},
		&siteTool{
			name:        "random_gallery",
			description: "Pick random gallery images.",
			schema: Schema{
				"count":    {Kind: KindInteger, Description: "Number of images"},
				"category": {Kind: KindString, Description: "Gallery category"},
			},
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.RandomGallery(ctx, GetInt(p, "count", 0), GetString(p, "category", ""))
			},
		},
		&siteTool{
			name:        "update_gallery_item",
			description: "Update gallery image metadata such as caption or category.",
			schema: Schema{
				"id":     idParam,
				"fields": {Kind: KindObject, Description: "Metadata fields to set", Required: true},
			},
			tier: TierWrite,
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.UpdateGalleryItem(ctx, GetInt(p, "id", 0), objectParam(p, "fields"))
			},
		},
		&siteTool{
			name:        "delete_gallery_item",
			description: "Remove a gallery image (soft delete).",
			schema:      Schema{"id": idParam},
			tier:        TierWrite,
			run: func(ctx context.Context, p map[string]any) (json.RawMessage, error) {
				return api.DeleteGalleryItem(ctx, GetInt(p, "id", 0))
			},
		},
	}
}

// NewSiteRegistry registers SiteTools in a fresh registry.
func NewSiteRegistry(api SiteAPI) (*Registry, error) {
	r := NewRegistry()
	for _, t := range SiteTools(api) {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ReadOnly keeps only tier-0 tools.
func ReadOnly(t Tool) bool { return ToolTier(t) == TierReadOnly }

func objectParam(p map[string]any, key string) map[string]any {
	if m, ok := p[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
