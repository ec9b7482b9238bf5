package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhardy/obru-ai/sdk/go/obru"
)

type fakeBackend struct {
	prompt   string
	history  []string
	resets   int
	sessions int
}

func (f *fakeBackend) Chat(_ context.Context, sessionID, input string) (string, string, error) {
	if input == "boom" {
		return "", "", errors.New("model unavailable")
	}
	if sessionID == "" {
		f.sessions++
		sessionID = "generated"
	}
	f.history = append(f.history, input)
	return sessionID, "re: " + input, nil
}

func (f *fakeBackend) Messages(context.Context, string) ([]obru.Message, error) {
	system := f.prompt
	out := []obru.Message{{Role: "system", Content: &system}}
	for _, h := range f.history {
		text := h
		out = append(out, obru.Message{Role: "user", Content: &text})
	}
	return out, nil
}

func (f *fakeBackend) Reset(context.Context, string) error {
	f.resets++
	f.history = nil
	return nil
}

func (f *fakeBackend) UpdatePrompt(_ context.Context, _ string, prompt string) error {
	f.prompt = prompt
	return nil
}

func (f *fakeBackend) RunWorkflow(context.Context, string, string, string) (string, error) {
	return "", nil
}

func (f *fakeBackend) Tools(context.Context) ([]obru.CatalogEntry, error) {
	return []obru.CatalogEntry{{Name: "getCurrentTime", Description: "current time"}}, nil
}

func (f *fakeBackend) Workflows(context.Context) ([]obru.CatalogEntry, error) { return nil, nil }

func (f *fakeBackend) Close() error { return nil }

func TestREPLConversation(t *testing.T) {
	color.NoColor = true
	b := &fakeBackend{}
	in := strings.NewReader("hello\n\nboom\nagain\n/quit\nnever\n")
	var out bytes.Buffer

	require.NoError(t, runREPL(context.Background(), in, &out, b, ""))

	assert.Contains(t, out.String(), "re: hello")
	assert.Contains(t, out.String(), "✗ model unavailable")
	assert.Contains(t, out.String(), "re: again")
	assert.NotContains(t, out.String(), "never")
	assert.Equal(t, 1, b.sessions)
	assert.Equal(t, []string{"hello", "again"}, b.history)
}

func TestREPLCommands(t *testing.T) {
	color.NoColor = true
	b := &fakeBackend{}
	in := strings.NewReader("/prompt early\nhi\n/prompt be brief\n/messages\n/tools\n/reset\n/bogus\n")
	var out bytes.Buffer

	require.NoError(t, runREPL(context.Background(), in, &out, b, ""))

	text := out.String()
	assert.Contains(t, text, "no conversation yet")
	assert.Equal(t, "be brief", b.prompt)
	assert.Contains(t, text, "[system] be brief")
	assert.Contains(t, text, "[user] hi")
	assert.Contains(t, text, "getCurrentTime  current time")
	assert.Contains(t, text, "conversation cleared")
	assert.Contains(t, text, "unknown command /bogus")
	assert.Equal(t, 1, b.resets)
}

func TestREPLResumesSession(t *testing.T) {
	color.NoColor = true
	b := &fakeBackend{}
	var out bytes.Buffer

	require.NoError(t, runREPL(context.Background(), strings.NewReader("hi\n"), &out, b, "named"))
	assert.Zero(t, b.sessions)
}
