// Package formtpl supplies entry form schemas for diagnostic tests. Schemas
// describe the fields a technician fills in when recording a result, and can
// come from a remote template service or from built-in per-category defaults.
package formtpl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Field describes one input on an entry form.
type Field struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // number, text, textarea, select, file
	Unit     string   `json:"unit,omitempty"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// Schema is the form layout for entering a result.
type Schema struct {
	TestCode string  `json:"test_code,omitempty"`
	Category string  `json:"category"`
	Title    string  `json:"title"`
	Fields   []Field `json:"fields"`
}

// SchemaProvider resolves the entry form schema for a test. Implementations
// may consult a remote template service or fall back to built-in defaults.
type SchemaProvider interface {
	Schema(ctx context.Context, testCode, category string) (*Schema, error)
}

// StaticProvider serves built-in schemas keyed by category. Numeric
// categories get a value/remarks form, narrative categories a findings form.
type StaticProvider struct{}

var numericCategories = map[string]bool{
	"BLOOD":   true,
	"URINE":   true,
	"HORMONE": true,
}

// Schema returns the default schema for the test's category.
func (StaticProvider) Schema(_ context.Context, testCode, category string) (*Schema, error) {
	if numericCategories[category] {
		return &Schema{
			TestCode: testCode,
			Category: category,
			Title:    "Numeric Result Entry",
			Fields: []Field{
				{Name: "value", Label: "Measured Value", Type: "number", Required: true},
				{Name: "remarks", Label: "Remarks", Type: "textarea"},
			},
		}, nil
	}
	return &Schema{
		TestCode: testCode,
		Category: category,
		Title:    "Narrative Report Entry",
		Fields: []Field{
			{Name: "findings", Label: "Findings", Type: "textarea", Required: true},
			{Name: "impression", Label: "Impression", Type: "textarea", Required: true},
			{Name: "attachments", Label: "Attachments", Type: "file"},
		},
	}, nil
}

// HTTPProvider fetches schemas from a remote template service and caches them
// with a TTL. On fetch failure it falls back to the static defaults so result
// entry keeps working when the template service is down.
type HTTPProvider struct {
	baseURL  string
	client   *http.Client
	ttl      time.Duration
	fallback StaticProvider

	mu    sync.RWMutex
	cache map[string]cachedSchema
}

type cachedSchema struct {
	schema    *Schema
	fetchedAt time.Time
}

// NewHTTPProvider creates an HTTPProvider with a 1 hour cache TTL.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     time.Hour,
		cache:   make(map[string]cachedSchema),
	}
}

// Schema returns the cached schema when fresh, fetching from the template
// service otherwise.
func (p *HTTPProvider) Schema(ctx context.Context, testCode, category string) (*Schema, error) {
	key := testCode + "|" + category

	p.mu.RLock()
	entry, ok := p.cache[key]
	p.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < p.ttl {
		return entry.schema, nil
	}

	schema, err := p.fetch(ctx, testCode, category)
	if err != nil {
		if ok {
			// Stale cache beats a hard failure.
			return entry.schema, nil
		}
		return p.fallback.Schema(ctx, testCode, category)
	}

	p.mu.Lock()
	p.cache[key] = cachedSchema{schema: schema, fetchedAt: time.Now()}
	p.mu.Unlock()

	return schema, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, testCode, category string) (*Schema, error) {
	u := fmt.Sprintf("%s/templates/%s?category=%s", p.baseURL, url.PathEscape(testCode), url.QueryEscape(category))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build template request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch template: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("template service returned status %d", resp.StatusCode)
	}

	var schema Schema
	if err := json.NewDecoder(resp.Body).Decode(&schema); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if schema.TestCode == "" {
		schema.TestCode = testCode
	}
	if schema.Category == "" {
		schema.Category = category
	}
	return &schema, nil
}
