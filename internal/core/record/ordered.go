package record

import (
	"bytes"
	"encoding/json"
)

// OrderedField is one key/value pair of an Ordered record
type OrderedField struct {
	Key   string
	Value any
}

// Ordered is a projected record that marshals its fields in a fixed order
// (the whitelist's order, per spec.md §4.7), unlike a plain map which
// encoding/json always marshals in sorted-key order
type Ordered []OrderedField

// Get returns the value for key and whether it was present
func (o Ordered) Get(key string) (any, bool) {
	for _, f := range o {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// MarshalJSON renders the fields in insertion order
func (o Ordered) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
