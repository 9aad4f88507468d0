// Package memory provides the in-process entity provider. Records live in
// maps keyed by entity name and id and are lost when the process exits.
package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

// Type is the provider type name.
const Type = "memory"

// DefaultPageSize applies when a list request does not set a size.
const DefaultPageSize = 20

// ErrExists is the cause of the conflict returned when a record is created
// with an id already in use.
var ErrExists = errors.New("record already exists")

// Register adds the memory provider type to c.
func Register(c *plugin.Catalog) error {
	return c.RegisterProvider(Type, func(cfg schema.ProviderConfiguration, deps plugin.Deps) (plugin.ProviderPlugin, error) {
		size := DefaultPageSize
		if v, ok := cfg.Options.Value("page_size"); ok {
			n, ok := v.AsInt()
			if !ok || n <= 0 {
				return nil, fmt.Errorf("page_size must be a positive integer, got %s", v)
			}
			size = n
		}
		deps.Logger.Debug().Str("provider", cfg.Name).Int("page_size", size).Msg("memory provider ready")
		return New(size), nil
	})
}

// Provider stores records in memory.
type Provider struct {
	mu       sync.RWMutex
	records  map[string]map[string]map[string]any // entity -> id -> attributes
	pageSize int
}

// New creates an empty provider.
func New(pageSize int) *Provider {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Provider{
		records:  make(map[string]map[string]map[string]any),
		pageSize: pageSize,
	}
}

// Create stores attrs under the id they carry, or under a new UUID.
func (p *Provider) Create(_ context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, attrs map[string]any) (entity.DynamicEntity, error) {
	rec, err := normalize(attrs)
	if err != nil {
		return entity.DynamicEntity{}, err
	}

	id, _ := rec[entity.IDAttribute].(string)
	if id == "" {
		id = uuid.NewString()
	}
	rec[entity.IDAttribute] = id

	p.mu.Lock()
	defer p.mu.Unlock()

	table := p.table(cfg.Name)
	if _, exists := table[id]; exists {
		return entity.DynamicEntity{}, apierror.EntityExists(cfg.Name, id, apierror.WithCause(ErrExists))
	}
	table[id] = rec
	return entity.New(cfg, rec), nil
}

// Update replaces the record. Nil attributes are dropped.
func (p *Provider) Update(_ context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, id string, attrs map[string]any) (entity.DynamicEntity, error) {
	rec, err := normalize(attrs)
	if err != nil {
		return entity.DynamicEntity{}, err
	}
	rec[entity.IDAttribute] = id

	p.mu.Lock()
	defer p.mu.Unlock()

	table := p.table(cfg.Name)
	if _, ok := table[id]; !ok {
		return entity.DynamicEntity{}, plugin.ErrNotFound
	}
	table[id] = rec
	return entity.New(cfg, rec), nil
}

// Patch merges attrs into the record as an RFC 7386 merge patch: nil
// attributes are removed, others replaced.
func (p *Provider) Patch(_ context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, id string, attrs map[string]any) (entity.DynamicEntity, error) {
	changes := lo.OmitByKeys(attrs, []string{entity.IDAttribute})
	patch, err := json.Marshal(changes)
	if err != nil {
		return entity.DynamicEntity{}, fmt.Errorf("encode patch: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	table := p.table(cfg.Name)
	current, ok := table[id]
	if !ok {
		return entity.DynamicEntity{}, plugin.ErrNotFound
	}

	doc, err := json.Marshal(current)
	if err != nil {
		return entity.DynamicEntity{}, fmt.Errorf("encode record: %w", err)
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return entity.DynamicEntity{}, fmt.Errorf("merge patch: %w", err)
	}

	var rec map[string]any
	if err := json.Unmarshal(merged, &rec); err != nil {
		return entity.DynamicEntity{}, fmt.Errorf("decode record: %w", err)
	}
	rec[entity.IDAttribute] = id
	table[id] = rec
	return entity.New(cfg, rec), nil
}

// Delete removes the record and reports whether it existed.
func (p *Provider) Delete(_ context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	table := p.table(cfg.Name)
	if _, ok := table[id]; !ok {
		return false, nil
	}
	delete(table, id)
	return true, nil
}

// FindByID returns a copy of the record.
func (p *Provider) FindByID(_ context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, id string) (entity.DynamicEntity, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.records[cfg.Name][id]
	if !ok {
		return entity.DynamicEntity{}, false, nil
	}
	return entity.New(cfg, rec), true, nil
}

// FindAll filters by equality on the string form of each attribute, sorts
// by page.Sort (then id) and returns one page.
func (p *Provider) FindAll(_ context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, filters entity.Filters, page entity.Pageable) (entity.Page, error) {
	p.mu.RLock()
	matched := lo.Filter(lo.Values(p.records[cfg.Name]), func(rec map[string]any, _ int) bool {
		return matches(rec, filters)
	})
	content := lo.Map(matched, func(rec map[string]any, _ int) entity.DynamicEntity {
		return entity.New(cfg, rec)
	})
	p.mu.RUnlock()

	order := append(slices.Clone(page.Sort), entity.Order{Attribute: entity.IDAttribute})
	slices.SortStableFunc(content, func(a, b entity.DynamicEntity) int {
		for _, o := range order {
			c := compare(a.Attributes[o.Attribute], b.Attributes[o.Attribute])
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})

	if page.Size <= 0 {
		page.Size = p.pageSize
	}
	total := len(content)
	start := min(page.Offset(), total)
	end := min(start+page.Size, total)

	return entity.Page{
		Content: content[start:end],
		Total:   total,
		Page:    page.Page,
		Size:    page.Size,
	}, nil
}

// Len returns the number of records stored for entityName.
func (p *Provider) Len(entityName string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records[entityName])
}

func (p *Provider) table(name string) map[string]map[string]any {
	t, ok := p.records[name]
	if !ok {
		t = make(map[string]map[string]any)
		p.records[name] = t
	}
	return t
}

// normalize round-trips attrs through JSON so stored values have the same
// shape regardless of how they were produced, and drops nil attributes.
func normalize(attrs map[string]any) (map[string]any, error) {
	data, err := json.Marshal(lo.OmitBy(attrs, func(_ string, v any) bool { return v == nil }))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	rec := make(map[string]any)
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func matches(rec map[string]any, filters entity.Filters) bool {
	for attr, values := range filters {
		if len(values) == 0 {
			continue
		}
		v, ok := rec[attr]
		if !ok || !lo.Contains(values, fmt.Sprint(v)) {
			return false
		}
	}
	return true
}

func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			return cmp.Compare(fa, fb)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
