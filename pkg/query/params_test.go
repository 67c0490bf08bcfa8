package query

import (
	"encoding/json"
	"testing"
)

func TestCanonical_OrderInsensitive(t *testing.T) {
	a := MustNew("hotel_id", 4469654, "locale", "en-gb", "page_number", 0)
	b := MustNew("page_number", "0", "locale", "en-gb", "hotel_id", int64(4469654))

	if a.Canonical() != b.Canonical() {
		t.Errorf("Canonical mismatch:\n  a=%s\n  b=%s", a.Canonical(), b.Canonical())
	}
	if a.Hash() != b.Hash() {
		t.Error("Hash should not depend on insertion order")
	}
	if !a.Equal(b) {
		t.Error("Equal should be true for the same logical set")
	}
}

func TestCanonical_Distinct(t *testing.T) {
	tests := []struct {
		name string
		a, b Params
	}{
		{
			name: "different value",
			a:    MustNew("hotel_id", 1, "locale", "en-gb"),
			b:    MustNew("hotel_id", 2, "locale", "en-gb"),
		},
		{
			name: "extra key",
			a:    MustNew("hotel_id", 1),
			b:    MustNew("hotel_id", 1, "locale", "en-gb"),
		},
		{
			name: "separator injection",
			a:    MustNew("a", "1&b=2"),
			b:    MustNew("a", "1", "b", "2"),
		},
		{
			name: "equals in value",
			a:    MustNew("a=b", "c"),
			b:    MustNew("a", "b=c"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.a.Canonical() == tt.b.Canonical() {
				t.Errorf("expected distinct encodings, both are %q", tt.a.Canonical())
			}
			if tt.a.Hash() == tt.b.Hash() {
				t.Error("expected distinct hashes")
			}
		})
	}
}

func TestSet_KeepsPosition(t *testing.T) {
	var p Params
	_ = p.Set("b", 1)
	_ = p.Set("a", 2)
	_ = p.Set("b", 3)

	keys := p.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Errorf("Keys = %v, want [b a]", keys)
	}
	if v, _ := p.Get("b"); v != "3" {
		t.Errorf("b = %q, want 3", v)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New("hotel_id"); err == nil {
		t.Error("expected error for odd argument count")
	}
	if _, err := New(1, "x"); err == nil {
		t.Error("expected error for non-string key")
	}
	if _, err := New("", "x"); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestJSON_PreservesOrder(t *testing.T) {
	p := MustNew("hotel_id", 4469654, "locale", "en-gb")

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"hotel_id":"4469654","locale":"en-gb"}` {
		t.Errorf("unexpected JSON: %s", data)
	}

	var decoded Params
	if err := json.Unmarshal([]byte(`{"locale":"en-gb","hotel_id":4469654,"adults":true}`), &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if keys := decoded.Keys(); keys[0] != "locale" || keys[1] != "hotel_id" {
		t.Errorf("order not preserved: %v", keys)
	}
	if v, _ := decoded.Get("hotel_id"); v != "4469654" {
		t.Errorf("hotel_id = %q", v)
	}
	if v, _ := decoded.Get("adults"); v != "true" {
		t.Errorf("adults = %q", v)
	}

	if err := json.Unmarshal([]byte(`{"nested":{"a":1}}`), &decoded); err == nil {
		t.Error("expected error for nested object value")
	}
}

func TestValues(t *testing.T) {
	p := MustNew("hotel_id", 4469654, "locale", "en-gb")
	if got := p.Values().Encode(); got != "hotel_id=4469654&locale=en-gb" {
		t.Errorf("Encode = %s", got)
	}
}
