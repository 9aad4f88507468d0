// Package entity holds the runtime values that flow through the pipeline:
// dynamic entities, list queries and result pages.
package entity

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"

	"github.com/artpar/entitygate/core/schema"
)

// IDAttribute is the attribute that carries a record's identity.
const IDAttribute = "id"

// DynamicEntity is a record whose shape is defined by configuration.
type DynamicEntity struct {
	// Attributes maps attribute name to value. The id lives under IDAttribute.
	Attributes map[string]any

	// Configuration is the entity definition the record is bound to.
	Configuration *schema.EntityConfiguration
}

// New creates an entity bound to cfg. The attributes are copied.
func New(cfg *schema.EntityConfiguration, attrs map[string]any) DynamicEntity {
	c := make(map[string]any, len(attrs))
	maps.Copy(c, attrs)
	return DynamicEntity{Attributes: c, Configuration: cfg}
}

// ID returns the record id in string form, or "" when unset.
func (e DynamicEntity) ID() string {
	switch id := e.Attributes[IDAttribute].(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// Get returns the value of an attribute.
func (e DynamicEntity) Get(name string) (any, bool) {
	v, ok := e.Attributes[name]
	return v, ok
}

// Set assigns an attribute, allocating the map if needed.
func (e *DynamicEntity) Set(name string, value any) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[name] = value
}

// Name returns the configured entity name.
func (e DynamicEntity) Name() string {
	if e.Configuration == nil {
		return ""
	}
	return e.Configuration.Name
}

// Clone returns a shallow copy of the entity with its own attribute map.
func (e DynamicEntity) Clone() DynamicEntity {
	return New(e.Configuration, e.Attributes)
}

// MarshalJSON encodes the attributes only.
func (e DynamicEntity) MarshalJSON() ([]byte, error) {
	if e.Attributes == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Attributes)
}

// Filters are equality predicates for list queries, keyed by attribute.
// Several values for one attribute match any of them.
type Filters map[string][]string

// Order sorts a list by one attribute.
type Order struct {
	Attribute string `json:"attribute"`
	Desc      bool   `json:"desc,omitempty"`
}

// Pageable is the pagination request forwarded to providers verbatim.
// Page is zero based. A Size of zero means the provider default.
type Pageable struct {
	Page int     `json:"page"`
	Size int     `json:"size"`
	Sort []Order `json:"sort,omitempty"`
}

// Offset returns the index of the first record of the page. It saturates
// at math.MaxInt instead of overflowing.
func (p Pageable) Offset() int {
	if p.Page <= 0 || p.Size <= 0 {
		return 0
	}
	if p.Page > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return p.Page * p.Size
}

// Page is one page of a list result.
type Page struct {
	Content []DynamicEntity `json:"content"`
	Total   int             `json:"total"`
	Page    int             `json:"page"`
	Size    int             `json:"size"`
}
