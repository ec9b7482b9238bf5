package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/danielhardy/obru-ai/internal/jsonvalue"
)

// DecodeArguments 解码工具调用参数。参数可能是 JSON 编码的字符串，
// 也可能已经是对象；空字符串与 null 都视为空对象。
func DecodeArguments(raw json.RawMessage) (jsonvalue.Object, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return jsonvalue.Object{}, nil
	}
	if trimmed[0] == '"' {
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return nil, fmt.Errorf("decode argument string: %w", err)
		}
		return jsonvalue.ParseObject([]byte(encoded))
	}
	return jsonvalue.ParseObject(trimmed)
}

// ParseToolCalls 将原始工具调用转换为可派发的调用，保留调用 ID。
func ParseToolCalls(raw []ToolCallRequest) ([]ParsedToolCall, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	parsed := make([]ParsedToolCall, 0, len(raw))
	for _, call := range raw {
		args, err := DecodeArguments(call.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("tool call %s (%s): %w", call.ID, call.Function.Name, err)
		}
		parsed = append(parsed, ParsedToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return parsed, nil
}
