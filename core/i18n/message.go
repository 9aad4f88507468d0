// Package i18n provides localizable messages and translation catalogs.
// The core only ever produces message keys plus context parameters;
// display strings are resolved at the edge by a Translator.
package i18n

import "maps"

// Message is a translation key with substitution parameters.
// A Message owns its context: it never aliases the map it was built from.
type Message struct {
	key     string
	context map[string]any
}

// NewMessage creates a message without context parameters.
func NewMessage(key string) Message {
	return Message{key: key, context: map[string]any{}}
}

// Of creates a message with a copy of the given context.
func Of(key string, context map[string]any) Message {
	c := make(map[string]any, len(context))
	maps.Copy(c, context)
	return Message{key: key, context: c}
}

// Key returns the translation key.
func (m Message) Key() string {
	return m.key
}

// Context returns a copy of the substitution parameters.
func (m Message) Context() map[string]any {
	c := make(map[string]any, len(m.context))
	maps.Copy(c, m.context)
	return c
}

// Param returns a single substitution parameter.
func (m Message) Param(name string) (any, bool) {
	v, ok := m.context[name]
	return v, ok
}

// MarshalJSON renders the message as {"key": ..., "context": {...}}.
func (m Message) MarshalJSON() ([]byte, error) {
	return marshalMessage(m)
}

// String returns the key; it is what gets logged when no translator is at hand.
func (m Message) String() string {
	return m.key
}
