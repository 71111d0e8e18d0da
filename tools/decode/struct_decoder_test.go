package decode

import (
	"testing"
)

type wirePayload struct {
	ChatID    string         `json:"chat_id"`
	Limit     int            `json:"limit"`
	Seq       int64          `json:"seq"`
	Receivers []string       `json:"receivers"`
	Meta      map[string]any `json:"meta"`
	Nested    nestedPart     `json:"nested"`
}

type nestedPart struct {
	Kind string `json:"kind"`
}

func TestDecodeStructByJSONTag(t *testing.T) {
	in := map[string]any{
		"chat_id": "c1",
		"limit":   float64(25), // JSON numbers arrive as float64
		"seq":     float64(9007),
		"receivers": []any{
			"u1", "u2",
		},
		"meta":   `{"source":"mobile"}`,
		"nested": map[string]any{"kind": "text"},
	}

	got, err := DecodeStruct[wirePayload](in)
	if err != nil {
		t.Fatalf("DecodeStruct: %v", err)
	}
	if got.ChatID != "c1" {
		t.Errorf("ChatID = %q", got.ChatID)
	}
	if got.Limit != 25 || got.Seq != 9007 {
		t.Errorf("Limit/Seq = %d/%d", got.Limit, got.Seq)
	}
	if len(got.Receivers) != 2 || got.Receivers[1] != "u2" {
		t.Errorf("Receivers = %v", got.Receivers)
	}
	if got.Meta["source"] != "mobile" {
		t.Errorf("Meta = %v, want double-encoded JSON parsed", got.Meta)
	}
	if got.Nested.Kind != "text" {
		t.Errorf("Nested = %+v", got.Nested)
	}
}

func TestDecodeStructMissingFieldsStayZero(t *testing.T) {
	got, err := DecodeStruct[wirePayload](map[string]any{"chat_id": "c1"})
	if err != nil {
		t.Fatalf("DecodeStruct: %v", err)
	}
	if got.Limit != 0 || got.Receivers != nil || got.Meta != nil {
		t.Errorf("unexpected non-zero fields: %+v", got)
	}
}

func TestDecodeStructNilMap(t *testing.T) {
	if _, err := DecodeStruct[wirePayload](nil); err == nil {
		t.Fatal("nil payload must be rejected")
	}
}

func TestDecodeStructWeakTyping(t *testing.T) {
	in := map[string]any{"limit": "42"}

	got, err := DecodeStruct[wirePayload](in)
	if err != nil {
		t.Fatalf("weak decode: %v", err)
	}
	if got.Limit != 42 {
		t.Errorf("Limit = %d", got.Limit)
	}

	if _, err := DecodeStruct[wirePayload](in, WithWeaklyTypedInput(false)); err == nil {
		t.Fatal("strict decode accepted string for int")
	}
}
