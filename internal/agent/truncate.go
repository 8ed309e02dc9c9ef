package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// MaxToolOutputChars caps the tool output text fed back to the model.
// Roughly 300-500 words, depending on character density.
const MaxToolOutputChars = 1500

// TruncateToolOutput shortens a tool's output before it enters the context
// window. Known structured shapes (news article lists, quote maps) are
// summarised; other oversized output is truncated.
func TruncateToolOutput(output string) string {
	return truncateToolOutput(output, MaxToolOutputChars)
}

func truncateToolOutput(output string, maxChars int) string {
	var parsed any
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		if len(output) > maxChars {
			return output[:maxChars] + "... (truncated)"
		}
		return output
	}

	if obj, ok := parsed.(map[string]any); ok {
		if articles, ok := obj["articles"].([]any); ok {
			return summarizeArticles(obj, articles)
		}
		if data, ok := obj["data"].(map[string]any); ok {
			return summarizeQuotes(data)
		}
	}

	if len(output) > maxChars {
		return fmt.Sprintf("Large JSON output (truncated): %s...%s",
			output[:maxChars/2], output[len(output)-maxChars/2:])
	}
	return output
}

func summarizeArticles(obj map[string]any, articles []any) string {
	top := articles
	if len(top) > 5 {
		top = top[:5]
	}
	headlines := make([]string, 0, len(top))
	for _, a := range top {
		headline := "No headline"
		if art, ok := a.(map[string]any); ok {
			if h, ok := art["headline"].(string); ok && h != "" {
				headline = h
			}
		}
		headlines = append(headlines, headline)
	}

	count := float64(len(articles))
	if n, ok := obj["news_count"].(float64); ok {
		count = n
	}
	summary := fmt.Sprintf("Found %d news articles. Top headlines: %s",
		int(count), strings.Join(headlines, "; "))
	if len(articles) > 5 {
		summary += fmt.Sprintf(" (and %d more...)", len(articles)-5)
	}
	return summary
}

func summarizeQuotes(data map[string]any) string {
	symbols := make([]string, 0, len(data))
	for sym := range data {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	quotes := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		entry, _ := data[sym].(map[string]any)
		status, _ := entry["status"].(string)
		price, hasPrice := entry["current_price"].(float64)
		if status == "success" && hasPrice {
			quotes = append(quotes, fmt.Sprintf("%s: %.2f", sym, price))
		} else {
			quotes = append(quotes, sym+": Error or N/A")
		}
	}
	return fmt.Sprintf("Fetched quotes for %d stocks: %s", len(data), strings.Join(quotes, ", "))
}
