package chat

import (
	"bytes"
	"encoding/json"
	"time"
)

// Suffix is the literal framing marker every inbound frame must end with.
// Outbound frames never carry it; the framing is asymmetric on purpose and
// part of the client contract.
const Suffix = "aabb"

// Wire error codes for rejected frames.
const (
	CodeInvalidFormat    = "INVALID_FORMAT"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeInvalidStructure = "INVALID_STRUCTURE"
	CodeParseError       = "PARSE_ERROR"
	CodeUnknownEvent     = "UNKNOWN_EVENT"
)

// ProtocolError describes a rejected inbound frame. Always recoverable:
// the gateway reports it to the peer and keeps the connection open.
type ProtocolError struct {
	Code     string // wire error code, e.g. INVALID_FORMAT
	Message  string
	Received string // raw frame echoed back on parse failures, empty otherwise
}

func (e *ProtocolError) Error() string { return e.Message }

// Decode parses one inbound frame. The suffix is checked before anything
// else; a frame without it is rejected unparsed. The remainder must be a
// JSON object with a string event_name out of the known vocabulary; a
// missing event_data defaults to an empty object.
func Decode(raw []byte) (*Event, *ProtocolError) {
	raw = bytes.TrimSpace(raw)
	if !bytes.HasSuffix(raw, []byte(Suffix)) {
		return nil, &ProtocolError{
			Code:     CodeInvalidFormat,
			Message:  "Invalid message format: missing required suffix",
			Received: string(raw),
		}
	}
	body := raw[:len(raw)-len(Suffix)]

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		switch err.(type) {
		case *json.SyntaxError:
			return nil, &ProtocolError{
				Code:     CodeInvalidJSON,
				Message:  "Invalid JSON format in message",
				Received: string(raw),
			}
		case *json.UnmarshalTypeError:
			return nil, &ProtocolError{
				Code:     CodeInvalidStructure,
				Message:  "Invalid event structure: Event must be a dictionary",
				Received: string(raw),
			}
		default:
			return nil, &ProtocolError{
				Code:     CodeParseError,
				Message:  "Unexpected error parsing event: " + err.Error(),
				Received: string(raw),
			}
		}
	}

	rawName, ok := doc["event_name"]
	if !ok {
		return nil, &ProtocolError{
			Code:     CodeInvalidStructure,
			Message:  "Invalid event structure: Missing required field: event_name",
			Received: string(raw),
		}
	}
	var name string
	if err := json.Unmarshal(rawName, &name); err != nil || name == "" {
		return nil, &ProtocolError{
			Code:     CodeInvalidStructure,
			Message:  "Invalid event structure: event_name must be a non-empty string",
			Received: string(raw),
		}
	}

	data := map[string]any{}
	if rawData, ok := doc["event_data"]; ok && !bytes.Equal(rawData, []byte("null")) {
		if err := json.Unmarshal(rawData, &data); err != nil {
			return nil, &ProtocolError{
				Code:     CodeInvalidStructure,
				Message:  "Invalid event structure: event_data must be an object",
				Received: string(raw),
			}
		}
	}

	kind := KindOf(name)
	if kind == KindUnknown {
		return nil, &ProtocolError{
			Code:    CodeUnknownEvent,
			Message: "Unknown event type: " + name,
		}
	}
	return &Event{Kind: kind, Name: name, Data: data}, nil
}

// ParseISOTime accepts the timestamp shapes clients actually send:
// RFC 3339 with or without fractional seconds, and zone-less ISO 8601,
// which is taken as UTC.
func ParseISOTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Encode builds one outbound frame: the event envelope plus a server
// timestamp, no framing suffix.
func Encode(name string, data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(map[string]any{
		"event_name": name,
		"event_data": data,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
