package offering

import (
	"context"
	"strings"
	"testing"

	"github.com/halbzeit-ai/deckreview/internal/modelrt"
)

type fakeCompleter struct {
	lastPrompt string
	response   string
	err        error
}

func (f *fakeCompleter) Complete(ctx context.Context, req modelrt.CompleteRequest) (string, error) {
	f.lastPrompt = req.Prompt
	return f.response, f.err
}

func TestExtractIncludesPromptAndSlideText(t *testing.T) {
	fc := &fakeCompleter{response: "  A remote cardiac monitoring platform.  "}
	e := NewExtractor(fc, "llama3.1", 4096)

	out, err := e.Extract(context.Background(), "Slide 1: ECG dashboard\n\n", "Summarize the company in one paragraph.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "A remote cardiac monitoring platform." {
		t.Fatalf("expected trimmed output, got %q", out)
	}
	if !strings.Contains(fc.lastPrompt, "Summarize the company") || !strings.Contains(fc.lastPrompt, "ECG dashboard") {
		t.Fatalf("expected prompt to include both the offering prompt and slide text, got %q", fc.lastPrompt)
	}
}
