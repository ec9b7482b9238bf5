package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// ChainFile 是提示链工作流定义文件的结构。
type ChainFile struct {
	Workflows []ChainDefinition `yaml:"workflows"`
}

// ChainDefinition 定义一个依次发送多个提示的工作流。
type ChainDefinition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	// Reset 为 true 时在第一步之前清空对话。
	Reset       bool     `yaml:"reset"`
	Steps       []string `yaml:"steps"`
}

// ChainData 是每一步模板可以引用的数据。
type ChainData struct {
	Input    string
	Previous string
	Outputs  []string
	Index    int
}

// LoadChains 从 YAML 文件加载提示链工作流。
func LoadChains(path string) ([]Step, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("工作流定义文件路径不能为空")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取工作流定义失败: %w", err)
	}
	return ParseChains(raw)
}

// ParseChains 解析 YAML 格式的提示链定义。
func ParseChains(raw []byte) ([]Step, error) {
	var file ChainFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("解析工作流定义失败: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Workflows))
	steps := make([]Step, 0, len(file.Workflows))
	for i, def := range file.Workflows {
		step, err := def.Compile()
		if err != nil {
			return nil, fmt.Errorf("workflows[%d]: %w", i, err)
		}
		if _, dup := seen[step.Name]; dup {
			return nil, fmt.Errorf("工作流 %q 重复定义", step.Name)
		}
		seen[step.Name] = struct{}{}
		steps = append(steps, step)
	}
	return steps, nil
}

// Compile 校验定义并编译每一步的模板。
func (d ChainDefinition) Compile() (Step, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return Step{}, errors.New("工作流名称不能为空")
	}
	if len(d.Steps) == 0 {
		return Step{}, fmt.Errorf("工作流 %q 至少需要一个步骤", name)
	}
	templates := make([]*template.Template, len(d.Steps))
	for i, text := range d.Steps {
		tmpl, err := template.New(fmt.Sprintf("%s#%d", name, i)).Option("missingkey=error").Parse(text)
		if err != nil {
			return Step{}, fmt.Errorf("工作流 %q 第 %d 步模板无效: %w", name, i+1, err)
		}
		templates[i] = tmpl
	}
	reset := d.Reset
	return Step{
		Name:        name,
		Description: d.Description,
		Execute: func(ctx context.Context, runner Runner, input string) (string, error) {
			if reset {
				if r, ok := runner.(Resetter); ok {
					r.Reset()
				}
			}
			data := ChainData{Input: input}
			for i, tmpl := range templates {
				var buf bytes.Buffer
				data.Index = i
				if err := tmpl.Execute(&buf, data); err != nil {
					return "", fmt.Errorf("渲染第 %d 步失败: %w", i+1, err)
				}
				out, err := runner.Process(ctx, buf.String())
				if err != nil {
					return "", fmt.Errorf("第 %d 步执行失败: %w", i+1, err)
				}
				data.Previous = out
				data.Outputs = append(data.Outputs, out)
			}
			return data.Previous, nil
		},
	}, nil
}
