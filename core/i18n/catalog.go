package i18n

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Translator resolves messages to display strings.
type Translator interface {
	// Languages returns the language tags the translator has catalogs for.
	Languages() []string

	// Translations returns the flattened key/template map of one language.
	Translations(lang string) map[string]string

	// Translate renders msg in the language best matching lang.
	// lang may be a single tag ("fr") or an Accept-Language header value.
	Translate(lang string, msg Message) string
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Catalog is an in-memory Translator built from per-language message files.
// It is read-only after construction and safe for concurrent use.
type Catalog struct {
	fallback string
	tags     []language.Tag
	names    []string
	matcher  language.Matcher
	messages map[string]map[string]string
}

// NewCatalog builds a catalog from language -> (key -> template) maps.
// fallback is used when no language matches and when a key is missing.
func NewCatalog(fallback string, messages map[string]map[string]string) *Catalog {
	c := &Catalog{
		fallback: fallback,
		messages: make(map[string]map[string]string, len(messages)),
	}

	names := make([]string, 0, len(messages))
	for lang := range messages {
		names = append(names, lang)
	}
	sort.Strings(names)

	// The fallback goes first so the matcher prefers it on ties.
	if _, ok := messages[fallback]; ok {
		names = moveToFront(names, fallback)
	}

	for _, lang := range names {
		c.messages[lang] = messages[lang]
		c.names = append(c.names, lang)
		c.tags = append(c.tags, language.Make(lang))
	}
	c.matcher = language.NewMatcher(c.tags)

	return c
}

// LoadDir loads every <lang>.yaml / <lang>.yml file from dir.
// Nested YAML mappings are flattened into dotted keys.
func LoadDir(dir, fallback string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read i18n dir %s: %w", dir, err)
	}

	messages := make(map[string]map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}

		flat := make(map[string]string)
		flatten("", tree, flat)
		messages[strings.TrimSuffix(name, ext)] = flat
	}

	return NewCatalog(fallback, messages), nil
}

// Languages returns the configured languages, fallback first.
func (c *Catalog) Languages() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Translations returns a copy of one language's messages.
func (c *Catalog) Translations(lang string) map[string]string {
	src := c.messages[c.resolve(lang)]
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Translate renders msg. Unknown keys render as the key itself.
func (c *Catalog) Translate(lang string, msg Message) string {
	template, ok := c.messages[c.resolve(lang)][msg.Key()]
	if !ok {
		template, ok = c.messages[c.fallback][msg.Key()]
	}
	if !ok {
		return msg.Key()
	}

	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := msg.Param(name); ok {
			return fmt.Sprint(v)
		}
		return m
	})
}

// resolve picks the catalog language best matching lang.
func (c *Catalog) resolve(lang string) string {
	if len(c.names) == 0 {
		return c.fallback
	}
	if _, ok := c.messages[lang]; ok {
		return lang
	}

	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		return c.fallback
	}

	_, index, confidence := c.matcher.Match(tags...)
	if confidence == language.No {
		return c.fallback
	}
	return c.names[index]
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

func moveToFront(names []string, name string) []string {
	out := []string{name}
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
