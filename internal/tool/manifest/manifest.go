// Package manifest builds tools from declarative YAML definitions: HTTP
// endpoints called with resty and static text templates.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"gopkg.in/yaml.v3"

	"github.com/danielhardy/obru-ai/internal/jsonvalue"
	"github.com/danielhardy/obru-ai/internal/tool"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 64 * 1024
)

// File 是工具清单文件的结构。
type File struct {
	Tools []Definition `yaml:"tools"`
}

// Definition 描述一个工具。HTTP 与 Static 必须且只能设置一个。
type Definition struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
	HTTP        *HTTPSpec      `yaml:"http"`
	Static      *string        `yaml:"static"`
}

// HTTPSpec 描述调用外部 HTTP 接口的工具。
// URL、Query、Body 中的 {{arg}} 会被替换为调用参数，Headers 与 URL 支持 ${ENV}。
type HTTPSpec struct {
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Query   map[string]string `yaml:"query"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	Timeout time.Duration     `yaml:"timeout"`
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Load 读取清单文件并构造工具。
func Load(path string) ([]tool.Tool, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("工具清单路径不能为空")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取工具清单失败: %w", err)
	}
	return Parse(raw, nil)
}

// Parse 解析清单内容。client 为 nil 时创建默认 resty 客户端。
func Parse(raw []byte, client *resty.Client) ([]tool.Tool, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("解析工具清单失败: %w", err)
	}
	if client == nil {
		client = resty.New().SetTimeout(defaultTimeout)
	}

	seen := make(map[string]struct{}, len(file.Tools))
	tools := make([]tool.Tool, 0, len(file.Tools))
	for i, def := range file.Tools {
		t, err := def.Build(client)
		if err != nil {
			return nil, fmt.Errorf("tools[%d]: %w", i, err)
		}
		if _, dup := seen[t.Name]; dup {
			return nil, fmt.Errorf("工具 %q 重复定义", t.Name)
		}
		seen[t.Name] = struct{}{}
		tools = append(tools, t)
	}
	return tools, nil
}

// Build 校验定义并生成工具。
func (d Definition) Build(client *resty.Client) (tool.Tool, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return tool.Tool{}, errors.New("工具名称不能为空")
	}
	if (d.HTTP == nil) == (d.Static == nil) {
		return tool.Tool{}, fmt.Errorf("工具 %q 必须且只能配置 http 或 static", name)
	}

	params := tool.ObjectSchema(nil)
	if d.Parameters != nil {
		obj, err := jsonvalue.ObjectFromMap(d.Parameters)
		if err != nil {
			return tool.Tool{}, fmt.Errorf("工具 %q 参数描述无效: %w", name, err)
		}
		params = obj
	}

	t := tool.Tool{Name: name, Description: d.Description, Parameters: params}
	if d.Static != nil {
		text := *d.Static
		t.Execute = func(_ context.Context, args jsonvalue.Object) (string, error) {
			return render(text, args, nil), nil
		}
		return t, nil
	}

	spec := *d.HTTP
	spec.Method = strings.ToUpper(strings.TrimSpace(spec.Method))
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}
	if strings.TrimSpace(spec.URL) == "" {
		return tool.Tool{}, fmt.Errorf("工具 %q 缺少 url", name)
	}
	t.Execute = func(ctx context.Context, args jsonvalue.Object) (string, error) {
		return spec.call(ctx, client, args)
	}
	return t, nil
}

func (s HTTPSpec) call(ctx context.Context, client *resty.Client, args jsonvalue.Object) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	req := client.R().SetContext(ctx)
	for key, value := range s.Headers {
		req.SetHeader(key, os.ExpandEnv(value))
	}
	for key, value := range s.Query {
		req.SetQueryParam(key, render(value, args, nil))
	}

	switch {
	case s.Body != "":
		req.SetBody(render(s.Body, args, nil))
	case s.Method != http.MethodGet && s.Method != http.MethodDelete:
		req.SetHeader("Content-Type", "application/json")
		body, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("encode arguments: %w", err)
		}
		req.SetBody(body)
	}

	target := render(os.ExpandEnv(s.URL), args, url.PathEscape)
	resp, err := req.Execute(s.Method, target)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", s.Method, target, err)
	}
	body := resp.Body()
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// render 替换 {{arg}} 占位符，缺失的参数替换为空字符串。
func render(text string, args jsonvalue.Object, escape func(string) string) string {
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]
		v, ok := args.Get(key)
		if !ok {
			return ""
		}
		s := v.Text()
		if escape != nil {
			s = escape(s)
		}
		return s
	})
}
