package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with the model.

Lines starting with a slash are commands:
  /reset           clear the conversation, keeping the system prompt
  /prompt <text>   replace the system prompt
  /messages        print the transcript
  /tools           list available tools
  /quit            leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()
		return runREPL(cmd.Context(), os.Stdin, os.Stdout, b, chatSessionID)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "resume or name a session")
}

// runREPL 逐行读取输入直到 EOF 或 /quit。
func runREPL(ctx context.Context, in io.Reader, out io.Writer, b backend, sessionID string) error {
	prompt := color.New(color.FgCyan, color.Bold)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		prompt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if strings.HasPrefix(line, "/") {
			quit, err := runCommand(ctx, out, b, &sessionID, line)
			if err != nil {
				printStatus(out, "✗", err.Error(), color.FgRed)
			}
			if quit {
				return nil
			}
			continue
		}
		id, reply, err := b.Chat(ctx, sessionID, line)
		if err != nil {
			printStatus(out, "✗", err.Error(), color.FgRed)
			continue
		}
		sessionID = id
		fmt.Fprintln(out, reply)
	}
}

func runCommand(ctx context.Context, out io.Writer, b backend, sessionID *string, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/reset":
		if *sessionID == "" {
			return false, nil
		}
		if err := b.Reset(ctx, *sessionID); err != nil {
			return false, err
		}
		printStatus(out, "✓", "conversation cleared", color.FgGreen)
	case "/prompt":
		if arg == "" {
			return false, fmt.Errorf("usage: /prompt <text>")
		}
		if *sessionID == "" {
			return false, fmt.Errorf("no conversation yet, send a message first")
		}
		if err := b.UpdatePrompt(ctx, *sessionID, arg); err != nil {
			return false, err
		}
		printStatus(out, "✓", "system prompt updated", color.FgGreen)
	case "/messages":
		if *sessionID == "" {
			return false, nil
		}
		messages, err := b.Messages(ctx, *sessionID)
		if err != nil {
			return false, err
		}
		role := color.New(color.FgYellow)
		for _, m := range messages {
			text := m.Text()
			if len(m.ToolCalls) > 0 {
				names := make([]string, 0, len(m.ToolCalls))
				for _, call := range m.ToolCalls {
					names = append(names, call.Function.Name)
				}
				text = "calls " + strings.Join(names, ", ")
			}
			fmt.Fprintf(out, "%s %s\n", role.Sprintf("[%s]", m.Role), text)
		}
	case "/tools":
		tools, err := b.Tools(ctx)
		if err != nil {
			return false, err
		}
		for _, t := range tools {
			fmt.Fprintf(out, "%s  %s\n", color.GreenString(t.Name), t.Description)
		}
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}

func printStatus(out io.Writer, symbol, message string, attr color.Attribute) {
	c := color.New(attr)
	fmt.Fprintf(out, "%s %s\n", c.Sprint(symbol), message)
}
