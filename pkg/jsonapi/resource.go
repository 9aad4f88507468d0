package jsonapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ResourceFromMap creates a Resource from a record. The "id" key becomes
// the resource id; every other key is an attribute.
func ResourceFromMap(resourceType string, data map[string]any) Resource {
	r := Resource{Type: resourceType, Attributes: make(map[string]any, len(data))}
	for k, v := range data {
		if k == "id" {
			r.ID = fmt.Sprint(v)
			continue
		}
		r.Attributes[k] = v
	}
	return r
}

// ErrEmptyBody is returned by DecodeAttributes for an empty request body.
var ErrEmptyBody = errors.New("empty request body")

// DecodeAttributes reads a request body holding either a JSON:API
// resource document ({"data": {"id": ..., "attributes": {...}}}) or a
// plain attribute object. Numbers are decoded as float64.
func DecodeAttributes(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyBody
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("body must be a JSON object")
	}

	if len(body) != 1 {
		return body, nil
	}
	doc, ok := body["data"].(map[string]any)
	if !ok {
		return body, nil
	}
	attrs, ok := doc["attributes"].(map[string]any)
	if !ok {
		return body, nil
	}

	out := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	if id, ok := doc["id"]; ok {
		out["id"] = id
	}
	return out, nil
}
