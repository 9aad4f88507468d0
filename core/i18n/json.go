package i18n

import "encoding/json"

type wireMessage struct {
	Key     string         `json:"key"`
	Context map[string]any `json:"context,omitempty"`
}

func marshalMessage(m Message) ([]byte, error) {
	return json.Marshal(wireMessage{Key: m.key, Context: m.context})
}
