// Package preset ships a read-only catalog of ready-made project templates.
// The catalog is compiled in; it backs the panel's "create from template"
// flow and is never mutated at runtime.
package preset

// Preset is one ready-made project template.
type Preset struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Icon        string            `json:"icon"`
	Compose     string            `json:"compose_content"`
	DefaultEnv  map[string]string `json:"default_env_vars"`
	Tags        []string          `json:"tags"`
}

// Summary is the listing form of a preset, without the compose payload.
type Summary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Icon        string   `json:"icon"`
	Tags        []string `json:"tags"`
}

// Category groups presets for the panel's filter bar.
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

var categoryNames = []struct{ id, name string }{
	{"web", "Web"},
	{"backend", "Backend"},
	{"database", "Database"},
	{"cms", "CMS"},
}

func summarize(p Preset) Summary {
	return Summary{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Icon:        p.Icon,
		Tags:        p.Tags,
	}
}

// All returns summaries of every preset, optionally filtered by category.
// An empty or "all" category returns the full catalog.
func All(category string) []Summary {
	out := make([]Summary, 0, len(catalog))
	for _, p := range catalog {
		if category != "" && category != "all" && p.Category != category {
			continue
		}
		out = append(out, summarize(p))
	}
	return out
}

// ByID returns the full preset, compose payload included.
func ByID(id string) (Preset, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

// Categories returns the filter categories with per-category counts,
// "all" first.
func Categories() []Category {
	out := []Category{{ID: "all", Name: "All", Count: len(catalog)}}
	for _, c := range categoryNames {
		count := 0
		for _, p := range catalog {
			if p.Category == c.id {
				count++
			}
		}
		out = append(out, Category{ID: c.id, Name: c.name, Count: count})
	}
	return out
}
