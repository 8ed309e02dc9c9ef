package agent

import (
	"strings"
	"testing"
)

func TestTruncateToolOutputPlainText(t *testing.T) {
	exact := strings.Repeat("a", MaxToolOutputChars)
	if got := TruncateToolOutput(exact); got != exact {
		t.Errorf("output at the limit should pass through unchanged")
	}

	over := strings.Repeat("a", MaxToolOutputChars+1)
	got := TruncateToolOutput(over)
	want := strings.Repeat("a", MaxToolOutputChars) + "... (truncated)"
	if got != want {
		t.Errorf("oversized output not truncated correctly: len=%d", len(got))
	}
}

func TestTruncateToolOutputArticles(t *testing.T) {
	payload := `{"news_count": 12, "articles": [
		{"headline": "First"}, {"headline": "Second"}, {"headline": "Third"},
		{"headline": "Fourth"}, {"headline": "Fifth"}, {"headline": "Sixth"},
		{"other": "field"}
	]}`
	got := TruncateToolOutput(payload)

	if !strings.HasPrefix(got, "Found 12 news articles.") {
		t.Errorf("missing count prefix: %q", got)
	}
	if !strings.Contains(got, "First; Second; Third; Fourth; Fifth") {
		t.Errorf("missing top headlines: %q", got)
	}
	if strings.Contains(got, "Sixth") {
		t.Errorf("more than 5 headlines included: %q", got)
	}
	if !strings.Contains(got, "(and 2 more...)") {
		t.Errorf("missing overflow note: %q", got)
	}
}

func TestTruncateToolOutputArticlesMissingHeadline(t *testing.T) {
	got := TruncateToolOutput(`{"articles": [{"source": "wire"}]}`)
	if !strings.Contains(got, "No headline") {
		t.Errorf("missing headline placeholder: %q", got)
	}
	if !strings.HasPrefix(got, "Found 1 news articles.") {
		t.Errorf("count should fall back to article length: %q", got)
	}
}

func TestTruncateToolOutputQuotes(t *testing.T) {
	payload := `{"data": {
		"AAPL": {"status": "success", "current_price": 191.456},
		"MSFT": {"status": "error"},
		"GOOG": {"status": "success"}
	}}`
	got := TruncateToolOutput(payload)

	if !strings.HasPrefix(got, "Fetched quotes for 3 stocks: ") {
		t.Errorf("missing prefix: %q", got)
	}
	if !strings.Contains(got, "AAPL: 191.46") {
		t.Errorf("price not formatted to 2 decimals: %q", got)
	}
	if !strings.Contains(got, "MSFT: Error or N/A") {
		t.Errorf("failed quote not reported: %q", got)
	}
	if !strings.Contains(got, "GOOG: Error or N/A") {
		t.Errorf("missing price should report N/A: %q", got)
	}
}

func TestTruncateToolOutputLargeJSON(t *testing.T) {
	payload := `{"blob": "` + strings.Repeat("x", 3000) + `"}`
	got := TruncateToolOutput(payload)

	if !strings.HasPrefix(got, "Large JSON output (truncated): ") {
		t.Errorf("missing prefix: %q", got[:60])
	}
	head := payload[:MaxToolOutputChars/2]
	tail := payload[len(payload)-MaxToolOutputChars/2:]
	if !strings.Contains(got, head+"..."+tail) {
		t.Error("head/tail window not preserved")
	}
}

func TestTruncateToolOutputSmallJSON(t *testing.T) {
	payload := `{"ok": true}`
	if got := TruncateToolOutput(payload); got != payload {
		t.Errorf("small JSON should pass through, got %q", got)
	}
}

func TestSanitizeReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no tags", "hello there", "hello there"},
		{"single tag", "<tool-use>{\"name\":\"x\"}</tool-use> answer", "answer"},
		{"multiline tag", "<tool-use>\nline1\nline2\n</tool-use>\nanswer", "answer"},
		{"multiple tags", "<tool-use>a</tool-use>one <tool-use>b</tool-use>two", "one two"},
		{"only tag", "<tool-use>a</tool-use>  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeReply(tt.in); got != tt.want {
				t.Errorf("SanitizeReply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
