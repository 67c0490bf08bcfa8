// Package query holds the upstream query parameter set used to address
// cached and stored hotel responses.
package query

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"github.com/spf13/cast"
)

// Params is an ordered mapping of parameter names to scalar values.
// Values are normalised to their string form on Set, so two sets built from
// the same logical values compare equal regardless of the Go scalar type or
// insertion order. The zero value is ready to use.
type Params struct {
	keys   []string
	values map[string]string
}

// New builds a parameter set from alternating key/value arguments.
//
//	query.New("hotel_id", 4469654, "locale", "en-gb")
func New(pairs ...any) (Params, error) {
	var p Params
	if len(pairs)%2 != 0 {
		return p, fmt.Errorf("odd number of key/value arguments: %d", len(pairs))
	}
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return p, fmt.Errorf("parameter name at position %d is %T, want string", i, pairs[i])
		}
		if err := p.Set(key, pairs[i+1]); err != nil {
			return p, err
		}
	}
	return p, nil
}

// MustNew is like New but panics on error. Intended for static parameter sets.
func MustNew(pairs ...any) Params {
	p, err := New(pairs...)
	if err != nil {
		panic(err)
	}
	return p
}

// Set assigns a scalar value. Re-setting an existing key keeps its position.
func (p *Params) Set(key string, value any) error {
	if key == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", key, err)
	}
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = s
	return nil
}

// Get returns the normalised value for key.
func (p Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns parameter names in insertion order.
func (p Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of parameters.
func (p Params) Len() int {
	return len(p.keys)
}

// Map returns a copy of the parameters as a plain map.
func (p Params) Map() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Values converts the set into url.Values for the upstream query string.
func (p Params) Values() url.Values {
	v := make(url.Values, len(p.values))
	for _, k := range p.keys {
		v.Set(k, p.values[k])
	}
	return v
}

// Canonical returns the order-insensitive encoding of the set: keys sorted,
// names and values URL-escaped and joined with '&'. Distinct sets always
// produce distinct encodings.
func (p Params) Canonical() string {
	keys := p.Keys()
	sort.Strings(keys)

	var buf bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(url.QueryEscape(k))
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(p.values[k]))
	}
	return buf.String()
}

// Hash returns the hex SHA-256 of Canonical. It is the fixed-width natural
// key used by the durable stores.
func (p Params) Hash() string {
	sum := sha256.Sum256([]byte(p.Canonical()))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether both sets hold the same keys and values.
func (p Params) Equal(other Params) bool {
	if len(p.values) != len(other.values) {
		return false
	}
	for k, v := range p.values {
		if ov, ok := other.values[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a JSON object preserving insertion order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object of scalars, keeping document order.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("params: expected JSON object")
	}

	*p = Params{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("params: expected string key, got %T", tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("params: value for %q: %w", key, err)
		}
		switch raw.(type) {
		case map[string]any, []any:
			return fmt.Errorf("params: value for %q is not a scalar", key)
		}
		if err := p.Set(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
