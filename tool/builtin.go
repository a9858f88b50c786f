package tool

import (
	"github.com/hupe1980/toolmesh/internal/util"
)

// renderChartArgs describes the arguments of the render_chart builtin; its
// schema is derived by reflection.
type renderChartArgs struct {
	ChartType string           `json:"chart_type" description:"Chart style to draw (line, bar, pie)"`
	Title     string           `json:"title,omitempty" description:"Optional chart title"`
	Series    []map[string]any `json:"series" description:"Data series to plot"`
}

// Builtins returns the descriptor table shipped with the repo: system
// introspection, data access, and dashboard render commands. Applications
// extend or replace this table when constructing their catalog.
func Builtins() []Descriptor {
	return []Descriptor{
		{
			Name:        "get_time",
			Category:    CategorySystem,
			Description: "Get the current UTC time in RFC3339 format",
			HandlerKey:  "getTime",
		},
		{
			Name:        "system_status",
			Category:    CategorySystem,
			Description: "Report the status of the control process and its managed servers",
			HandlerKey:  "systemStatus",
		},
		{
			Name:        "search_records",
			Category:    CategoryData,
			Description: "Search stored records for a query string",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Text to search for"},
					"limit": map[string]any{"type": "integer", "description": "Maximum number of results"},
				},
				"required": []string{"query"},
			},
			HandlerKey: "searchRecords",
		},
		{
			Name:        "read_document",
			Category:    CategoryData,
			Description: "Read a document by its path",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Document path"},
				},
				"required": []string{"path"},
			},
			HandlerKey: "readDocument",
		},
		{
			Name:        "render_chart",
			Category:    CategoryRender,
			Description: "Draw a chart on the connected dashboard",
			Parameters:  util.CreateSchema(renderChartArgs{}),
			HandlerKey:  "renderChart",
		},
		{
			Name:        "show_notification",
			Category:    CategoryRender,
			Description: "Show a notification banner on the connected dashboard",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":   map[string]any{"type": "string", "description": "Notification title"},
					"message": map[string]any{"type": "string", "description": "Notification body"},
					"level":   map[string]any{"type": "string", "description": "info, warning or error"},
				},
				"required": []string{"message"},
			},
			HandlerKey: "showNotification",
		},
		{
			Name:        "update_dashboard",
			Category:    CategoryRender,
			Description: "Replace the contents of a dashboard panel",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"panel": map[string]any{"type": "string", "description": "Panel identifier"},
					"data":  map[string]any{"type": "object", "description": "New panel payload"},
				},
				"required": []string{"panel", "data"},
			},
			HandlerKey: "updateDashboard",
		},
	}
}
