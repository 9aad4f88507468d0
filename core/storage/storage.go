// Package storage provides the SQLite entity provider. Each entity maps to
// one table and each attribute to one column; both names can be
// overridden through the access settings of the entity and attribute:
//
//	entities:
//	  - name: user
//	    provider: main
//	    access: { table: users }
//	    attributes:
//	      - name: email
//	        type: string
//	        access: { column: mail }
//
// Tables are created, and missing columns added, when the provider is
// prepared at startup.
package storage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/schema"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Table is the SQL mapping of one entity.
type Table struct {
	Name    string
	Columns []Column
}

// Column is the SQL mapping of one attribute.
type Column struct {
	Attribute string
	Name      string
	Type      string // declared attribute type
	SQLType   string
	NotNull   bool
}

// TableFor derives the mapping of cfg. The id column is always first.
func TableFor(cfg *schema.EntityConfiguration) (Table, error) {
	t := Table{Name: cfg.Access.StringOr("table", cfg.Name)}
	if !identifier.MatchString(t.Name) {
		return Table{}, fmt.Errorf("entity %q: invalid table name %q", cfg.Name, t.Name)
	}

	t.Columns = append(t.Columns, Column{Attribute: entity.IDAttribute, Name: entity.IDAttribute, Type: "string", SQLType: "TEXT"})
	for _, attr := range cfg.Attributes {
		if attr.Name == entity.IDAttribute {
			continue
		}
		c := Column{
			Attribute: attr.Name,
			Name:      attr.Access.StringOr("column", attr.Name),
			Type:      attr.Type,
			SQLType:   sqlType(attr.Type),
			NotNull:   attr.Required,
		}
		if !identifier.MatchString(c.Name) {
			return Table{}, fmt.Errorf("entity %q attribute %q: invalid column name %q", cfg.Name, attr.Name, c.Name)
		}
		t.Columns = append(t.Columns, c)
	}
	return t, nil
}

// Column returns the column of an attribute.
func (t Table) Column(attribute string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Attribute == attribute {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the quoted column names in order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = quote(c.Name)
	}
	return names
}

// CreateSQL returns the CREATE TABLE statement.
func (t Table) CreateSQL() string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		defs = append(defs, c.definition())
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quote(t.Name), strings.Join(defs, ",\n  "))
}

// AddColumnSQL returns the statement adding c to an existing table.
// NOT NULL is omitted since existing rows have no value.
func (t Table) AddColumnSQL(c Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quote(t.Name), quote(c.Name), c.SQLType)
}

func (c Column) definition() string {
	parts := []string{quote(c.Name), c.SQLType}
	if c.Name == entity.IDAttribute {
		parts = append(parts, "PRIMARY KEY")
	} else if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " ")
}

func sqlType(typ string) string {
	switch typ {
	case "integer", "int", "boolean", "bool":
		return "INTEGER"
	case "number", "float":
		return "REAL"
	default:
		return "TEXT"
	}
}

func quote(name string) string {
	return `"` + name + `"`
}

// toDB converts an attribute value to its stored form.
func toDB(val any, c Column) (any, error) {
	if val == nil {
		return nil, nil
	}

	switch c.Type {
	case "boolean", "bool":
		switch v := val.(type) {
		case bool:
			if v {
				return 1, nil
			}
			return 0, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
			return toDB(b, c)
		}
	case "integer", "int":
		switch v := val.(type) {
		case float64:
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case "number", "float":
		if s, ok := val.(string); ok {
			return strconv.ParseFloat(s, 64)
		}
	}

	switch v := val.(type) {
	case []any, map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return string(data), nil
	default:
		return v, nil
	}
}

// fromDB converts a scanned value back to its attribute form.
func fromDB(val any, c Column) any {
	if b, ok := val.([]byte); ok {
		val = string(b)
	}
	if val == nil {
		return nil
	}

	switch c.Type {
	case "boolean", "bool":
		if n, ok := val.(int64); ok {
			return n != 0
		}
	case "list", "array", "map", "object":
		if s, ok := val.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	}
	return val
}
