package paper

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SectionMap is an insertion-ordered mapping from section name to section
// body. Order matches document order, which plain Go maps (and their JSON
// encoding) would not preserve.
type SectionMap struct {
	names  []string
	bodies map[string]string
}

// NewSectionMap returns an empty SectionMap.
func NewSectionMap() *SectionMap {
	return &SectionMap{bodies: make(map[string]string)}
}

// Set adds or replaces a section body. A repeated name keeps its original
// position.
func (m *SectionMap) Set(name, body string) {
	if _, ok := m.bodies[name]; !ok {
		m.names = append(m.names, name)
	}
	m.bodies[name] = body
}

// Get returns the body for a section name.
func (m *SectionMap) Get(name string) (string, bool) {
	body, ok := m.bodies[name]
	return body, ok
}

// Len returns the number of sections.
func (m *SectionMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.names)
}

// Names returns section names in document order.
func (m *SectionMap) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// MarshalJSON encodes sections as a JSON object in insertion order.
func (m *SectionMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range m.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(m.bodies[name])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (m *SectionMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("sections: expected JSON object, got %v", tok)
	}

	m.names = nil
	m.bodies = make(map[string]string)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("sections: non-string key %v", keyTok)
		}
		var body string
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("sections: decoding body for %q: %w", key, err)
		}
		m.Set(key, body)
	}
	// Consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
