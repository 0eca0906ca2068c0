package schema

import (
	"errors"
	"testing"
)

type sample struct {
	Name  string  `json:"name" jsonschema:"required"`
	Kind  string  `json:"kind" jsonschema:"required,enum=a,enum=b"`
	Score float64 `json:"score" jsonschema:"minimum=0,maximum=1"`
	Note  string  `json:"note,omitempty"`
}

func TestReflect_Strict(t *testing.T) {
	m, err := Reflect[sample]()
	if err != nil {
		t.Fatalf("reflect: %v", err)
	}
	if _, ok := m["$schema"]; ok {
		t.Error("expected $schema to be removed")
	}
	if m["additionalProperties"] != false {
		t.Errorf("expected additionalProperties false, got %v", m["additionalProperties"])
	}
	props, ok := m["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties map, got %T", m["properties"])
	}
	for _, key := range []string{"name", "kind", "score", "note"} {
		if _, ok := props[key]; !ok {
			t.Errorf("expected property %q", key)
		}
	}
}

func TestValidate(t *testing.T) {
	v := MustNew[sample]()

	tests := []struct {
		name      string
		doc       string
		wantErr   bool
		wantValid bool // true when the failure should be a *ValidationError
	}{
		{"valid", `{"name":"x","kind":"a","score":0.5}`, false, false},
		{"missing required", `{"kind":"a"}`, true, true},
		{"enum violation", `{"name":"x","kind":"c"}`, true, true},
		{"out of range", `{"name":"x","kind":"b","score":1.5}`, true, true},
		{"extra property", `{"name":"x","kind":"a","extra":true}`, true, true},
		{"malformed", `{"name":`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate([]byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			var ve *ValidationError
			if errors.As(err, &ve) != tt.wantValid {
				t.Errorf("expected ValidationError=%v, got %T: %v", tt.wantValid, err, err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	v := MustNew[sample]()
	got, err := Decode[sample](v, []byte(`{"name":"red dress","kind":"b","score":0.9}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "red dress" || got.Kind != "b" || got.Score != 0.9 {
		t.Errorf("unexpected decode result %+v", got)
	}
}

func TestMap_IsCopy(t *testing.T) {
	v := MustNew[sample]()
	m := v.Map()
	m["type"] = "array"
	if v.Map()["type"] != "object" {
		t.Error("expected Map to return an independent copy")
	}
}
