package prompt

import "testing"

func TestSystemPromptWithoutDescriptions(t *testing.T) {
	c := New("You are a test agent.")
	if got := c.SystemPrompt(); got != "You are a test agent." {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestSystemPromptWithDescriptions(t *testing.T) {
	c := New("base")
	c.AppendToolDescription("reverse: reverses text")
	c.AppendToolDescription("reverse: reverses text")

	want := "base\n\nYou have access to the following tools:\n\nreverse: reverses text\nreverse: reverses text"
	if got := c.SystemPrompt(); got != want {
		t.Fatalf("unexpected prompt:\n got %q\nwant %q", got, want)
	}
}

func TestSetBasePromptKeepsDescriptions(t *testing.T) {
	c := New("old")
	c.AppendToolDescription("clock")
	c.SetBasePrompt("new")

	want := "new\n\nYou have access to the following tools:\n\nclock"
	if got := c.SystemPrompt(); got != want {
		t.Fatalf("unexpected prompt: %q", got)
	}

	c.ClearToolDescriptions()
	if got := c.SystemPrompt(); got != "new" {
		t.Fatalf("expected descriptions cleared, got %q", got)
	}
	if c.BasePrompt() != "new" {
		t.Fatalf("unexpected base prompt")
	}
}
