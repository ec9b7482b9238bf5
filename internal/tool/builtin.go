package tool

import (
	"context"
	"errors"
	"time"

	"github.com/danielhardy/obru-ai/internal/jsonvalue"
)

var errNoExecutor = errors.New("tool has no executor")

// CurrentTime 返回报告当前 UTC 时间的工具，clock 为 nil 时使用 time.Now。
func CurrentTime(clock func() time.Time) Tool {
	if clock == nil {
		clock = time.Now
	}
	return Tool{
		Name:        "getCurrentTime",
		Description: "Gets the current time",
		Parameters:  ObjectSchema(nil),
		Execute: func(context.Context, jsonvalue.Object) (string, error) {
			return clock().UTC().Format(time.RFC3339), nil
		},
	}
}
