package schema

// RouteDescription advertises one endpoint served for an entity or a
// route plugin. Path uses {name} placeholders for variables.
type RouteDescription struct {
	Method    string   `json:"method" yaml:"method"`
	Path      string   `json:"path" yaml:"path"`
	Entity    string   `json:"entity,omitempty" yaml:"entity,omitempty"`
	Verb      string   `json:"verb,omitempty" yaml:"verb,omitempty"`
	Variables []string `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// EntityDescription is the front-end projection of an entity.
type EntityDescription struct {
	Name       string                 `json:"name"`
	Route      string                 `json:"route"`
	Verbs      []string               `json:"verbs"`
	Attributes []AttributeDescription `json:"attributes"`
}

// AttributeDescription is the front-end projection of an attribute.
type AttributeDescription struct {
	Name          string         `json:"name"`
	Type          string         `json:"type,omitempty"`
	Required      bool           `json:"required"`
	Input         string         `json:"input,omitempty"`
	InputSettings map[string]any `json:"input_settings,omitempty"`
}

// Describe projects the entity configuration.
func (e EntityConfiguration) Describe() EntityDescription {
	desc := EntityDescription{
		Name:       e.Name,
		Route:      e.Route(),
		Verbs:      make([]string, 0, len(Verbs)),
		Attributes: make([]AttributeDescription, 0, len(e.Attributes)),
	}
	for _, v := range Verbs {
		if !e.IsDisabled(v) {
			desc.Verbs = append(desc.Verbs, v)
		}
	}
	for _, a := range e.Attributes {
		ad := AttributeDescription{
			Name:     a.Name,
			Type:     a.Type,
			Required: a.Required,
			Input:    a.Input,
		}
		if len(a.InputSettings) > 0 {
			ad.InputSettings = a.InputSettings.Interface()
		}
		desc.Attributes = append(desc.Attributes, ad)
	}
	return desc
}
