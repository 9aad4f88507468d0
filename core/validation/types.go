package validation

import (
	"math"
	"net/mail"
	"net/url"

	"github.com/google/uuid"
)

// matchesType checks a non-nil value against a declared type tag.
// Unknown tags accept any value.
func matchesType(typ string, value any) bool {
	switch typ {
	case "string", "text":
		_, ok := value.(string)
		return ok
	case "integer", "int":
		switch n := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case "number", "float":
		switch value.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
		return false
	case "boolean", "bool":
		_, ok := value.(bool)
		return ok
	case "email":
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, err := mail.ParseAddress(s)
		return err == nil
	case "url":
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, err := url.ParseRequestURI(s)
		return err == nil
	case "uuid":
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, err := uuid.Parse(s)
		return err == nil
	case "list", "array":
		_, ok := value.([]any)
		return ok
	case "map", "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
