// Package tool holds the registry of callable tools the model may invoke.
package tool

import (
	"context"
	"fmt"

	xerrors "github.com/danielhardy/obru-ai/internal/errors"
	"github.com/danielhardy/obru-ai/internal/jsonvalue"
)

// Executor 根据结构化参数执行工具并返回文本结果。
type Executor func(ctx context.Context, args jsonvalue.Object) (string, error)

// Tool 是一个可注册的工具。
type Tool struct {
	Name        string
	Description string
	// Parameters 是 JSON-Schema 风格的参数描述。
	Parameters jsonvalue.Object
	Execute    Executor
}

const (
	CodeToolNotFound        xerrors.Code = "TOOL_NOT_FOUND"
	CodeToolExecutionFailed xerrors.Code = "TOOL_EXECUTION_FAILED"
)

var (
	// ErrNotFound 表示工具未注册。
	ErrNotFound = xerrors.New(CodeToolNotFound, "tool not found")
	// ErrExecutionFailed 表示工具执行返回了错误。
	ErrExecutionFailed = xerrors.New(CodeToolExecutionFailed, "tool execution failed")
)

func init() {
	xerrors.Register(CodeToolNotFound, xerrors.Attributes{
		Message:  "tool not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeToolExecutionFailed, xerrors.Attributes{
		Message:  "tool execution failed",
		Severity: xerrors.SeverityWarning,
	})
}

func notFound(name string) error {
	return xerrors.New(CodeToolNotFound, fmt.Sprintf("tool %q not found", name),
		xerrors.WithMetadata("tool", name))
}

func executionFailed(name string, cause error) error {
	return xerrors.Wrap(CodeToolExecutionFailed, cause, fmt.Sprintf("failed to execute tool %q", name),
		xerrors.WithMetadata("tool", name))
}

// ObjectSchema 构造 {type: object, properties, required} 形式的参数描述。
func ObjectSchema(properties jsonvalue.Object, required ...string) jsonvalue.Object {
	if properties == nil {
		properties = jsonvalue.Object{}
	}
	req := make([]jsonvalue.Value, 0, len(required))
	for _, name := range required {
		req = append(req, jsonvalue.String(name))
	}
	return jsonvalue.Object{
		"type":       jsonvalue.String("object"),
		"properties": jsonvalue.ObjectValue(properties),
		"required":   jsonvalue.Array(req...),
	}
}

// StringProperty 构造字符串类型的参数描述。
func StringProperty(description string) jsonvalue.Value {
	return jsonvalue.ObjectValue(jsonvalue.Object{
		"type":        jsonvalue.String("string"),
		"description": jsonvalue.String(description),
	})
}
