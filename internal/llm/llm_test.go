package llm

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeArgumentsAcceptsStringAndObject(t *testing.T) {
	cases := map[string]json.RawMessage{
		"string": json.RawMessage(`"{\"text\":\"abc\"}"`),
		"object": json.RawMessage(`{"text":"abc"}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			args, err := DecodeArguments(raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if text, ok := args.String("text"); !ok || text != "abc" {
				t.Fatalf("unexpected args: %+v", args)
			}
		})
	}
}

func TestDecodeArgumentsEmptyPayloads(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage(`""`), json.RawMessage(`null`)} {
		args, err := DecodeArguments(raw)
		if err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if len(args) != 0 {
			t.Fatalf("expected empty args for %q, got %+v", raw, args)
		}
	}
	if _, err := DecodeArguments(json.RawMessage(`"not json"`)); err == nil {
		t.Fatalf("expected error for malformed argument string")
	}
}

func TestParseToolCallsKeepsIDs(t *testing.T) {
	raw := []ToolCallRequest{
		{ID: "call_1", Type: "function", Function: FunctionCall{Name: "a", Arguments: json.RawMessage(`"{}"`)}},
		{ID: "call_2", Type: "function", Function: FunctionCall{Name: "b", Arguments: json.RawMessage(`{"n":1}`)}},
	}
	parsed, err := ParseToolCalls(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 2 || parsed[0].ID != "call_1" || parsed[1].ID != "call_2" {
		t.Fatalf("unexpected parsed calls: %+v", parsed)
	}
	if parsed[1].Name != "b" {
		t.Fatalf("unexpected name: %s", parsed[1].Name)
	}
}

func TestToolCallMessageEncodesNullContent(t *testing.T) {
	msg := ToolCallMessage([]ToolCallRequest{{ID: "c", Type: "function", Function: FunctionCall{Name: "x", Arguments: json.RawMessage(`"{}"`)}}})
	encoded, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"content":null`) {
		t.Fatalf("expected null content, got %s", encoded)
	}
	if !strings.Contains(string(encoded), `"tool_calls"`) {
		t.Fatalf("expected tool_calls, got %s", encoded)
	}
}

func TestCloneMessagesIsDeep(t *testing.T) {
	original := []Message{UserMessage("hi")}
	cloned := CloneMessages(original)
	*cloned[0].Content = "changed"
	if original[0].Text() != "hi" {
		t.Fatalf("clone shares content pointer")
	}
}

func TestDecodeArgumentsRoundTrip(t *testing.T) {
	args, err := DecodeArguments(json.RawMessage(`{"text":"abc"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	inner, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	outer, _ := json.Marshal(string(inner))
	again, err := DecodeArguments(outer)
	if err != nil {
		t.Fatalf("decode encoded: %v", err)
	}
	if !args.Equal(again) {
		t.Fatalf("mismatch: %+v vs %+v", args, again)
	}
}

func TestRequestFailedMatchesSentinel(t *testing.T) {
	err := RequestFailed(errors.New("boom"), "openai")
	if !errors.Is(err, ErrModelRequestFailed) {
		t.Fatalf("expected MODEL_REQUEST_FAILED, got %v", err)
	}
}
