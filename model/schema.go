package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Schema is the JSON-Schema subset accepted for form steps. Property
// declaration order in the source document is preserved so that forms render
// fields in the order the template author wrote them.
type Schema struct {
	Properties map[string]Property
	Order      []string
	Required   []string
}

type Property struct {
	Type        string    `json:"type"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Format      string    `json:"format,omitempty"`
	Pattern     string    `json:"pattern,omitempty"`
	MinLength   *int      `json:"minLength,omitempty"`
	MaxLength   *int      `json:"maxLength,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty"`
	MinItems    *int      `json:"minItems,omitempty"`
	MaxItems    *int      `json:"maxItems,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Default     any       `json:"default,omitempty"`
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw struct {
		Properties json.RawMessage `json:"properties"`
		Required   []string        `json:"required"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Required = raw.Required
	s.Properties = make(map[string]Property)
	s.Order = nil
	if len(raw.Properties) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Properties, &s.Properties); err != nil {
		return err
	}
	order, err := objectKeyOrder(raw.Properties)
	if err != nil {
		return err
	}
	s.Order = order
	return nil
}

func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"properties":{`)
	for i, key := range s.PropertyKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(s.Properties[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	if s.Required != nil {
		buf.WriteString(`,"required":`)
		r, _ := json.Marshal(s.Required)
		buf.Write(r)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PropertyKeys returns property names in document order, falling back to the
// map when the schema was built in code without an explicit order.
func (s Schema) PropertyKeys() []string {
	if len(s.Order) == len(s.Properties) {
		return s.Order
	}
	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	return keys
}

func (s Schema) IsRequired(key string) bool {
	for _, r := range s.Required {
		if r == key {
			return true
		}
	}
	return false
}

// objectKeyOrder scans a JSON object and returns its top-level keys in the
// order they appear.
func objectKeyOrder(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("properties must be a json object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
