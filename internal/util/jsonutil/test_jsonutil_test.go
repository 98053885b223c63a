package jsonutil

import (
	"errors"
	"testing"
)

func TestUnmarshalObject_DoubleEscapedUnicode(t *testing.T) {
	var got struct {
		Label string `json:"label"`
	}
	raw := []byte(`{"label":"\\uc7a5\\uba74 <1>"}`)
	if err := UnmarshalObject(raw, &got); err != nil {
		t.Fatalf("UnmarshalObject() error = %v", err)
	}
	if got.Label != "장면 <1>" {
		t.Fatalf("label = %q", got.Label)
	}
}

func TestUnmarshalObject_QuotedPayload(t *testing.T) {
	var got map[string]string
	if err := UnmarshalObject([]byte(`"{\"a\":\"b\"}"`), &got); err != nil {
		t.Fatalf("UnmarshalObject() error = %v", err)
	}
	if got["a"] != "b" {
		t.Fatalf("got %+v", got)
	}
}

func TestUnmarshalObject_RejectsNonObjects(t *testing.T) {
	var v map[string]any
	for _, raw := range []string{`[1,2]`, `42`, `"plain"`, ``} {
		if err := UnmarshalObject([]byte(raw), &v); !errors.Is(err, ErrNotObject) {
			t.Fatalf("UnmarshalObject(%q) error = %v, want ErrNotObject", raw, err)
		}
	}
	if err := UnmarshalObject([]byte(`{"a":`), &v); err == nil {
		t.Fatalf("expected syntax error")
	}
}

func TestMarshalNoEscape(t *testing.T) {
	b, err := MarshalNoEscape(map[string]string{"k": "<a&b>"})
	if err != nil {
		t.Fatalf("MarshalNoEscape() error = %v", err)
	}
	if string(b) != `{"k":"<a&b>"}` {
		t.Fatalf("got %s", b)
	}
}
