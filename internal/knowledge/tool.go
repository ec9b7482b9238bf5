package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danielhardy/obru-ai/internal/jsonvalue"
	"github.com/danielhardy/obru-ai/internal/tool"
)

// ToolName 是知识检索工具的名称。
const ToolName = "searchKnowledge"

const noMatches = "No matching knowledge found."

// SearchTool 将知识库包装为模型可调用的工具。
func SearchTool(provider Provider) tool.Tool {
	return tool.Tool{
		Name:        ToolName,
		Description: "Searches the local knowledge base and returns matching entries",
		Parameters: tool.ObjectSchema(jsonvalue.Object{
			"query": tool.StringProperty("Free-text query to match against entry keywords"),
			"topic": tool.StringProperty("Optional topic or tag to narrow the search"),
		}, "query"),
		Execute: func(_ context.Context, args jsonvalue.Object) (string, error) {
			if provider == nil {
				return "", errors.New("knowledge base is not configured")
			}
			query, _ := args.String("query")
			topic, _ := args.String("topic")
			if strings.TrimSpace(query) == "" && strings.TrimSpace(topic) == "" {
				return "", errors.New("query must not be empty")
			}
			return Format(provider.Query(query, topic)), nil
		},
	}
}

// Format 将检索结果渲染为编号列表。
func Format(snippets []Snippet) string {
	var b strings.Builder
	n := 0
	for _, s := range snippets {
		title := strings.TrimSpace(s.Title)
		content := strings.TrimSpace(s.Content)
		if title == "" && content == "" {
			continue
		}
		n++
		if n > 1 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d] %s: %s", n, title, content)
	}
	if n == 0 {
		return noMatches
	}
	return b.String()
}
