// Package agent runs one conversational turn against a model provider,
// executing federated tools until the model produces a final answer.
package agent

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/nimbusworks/aviary/internal/store"
)

// baseSystemPrompt is the platform-wide instruction block shared by every
// agent. Persona material from the agent config is appended after it.
const baseSystemPrompt = `You are a highly intelligent and helpful AI assistant. Your primary goal is to assist users by answering their questions and performing tasks using the tools available to you.

Your core function is to use the tools available to you to find information and perform actions. You are a tool-first agent.

Here are your strict guidelines:

1. Persona and Interaction:
* Be concise and direct. Avoid unnecessary conversational filler.
* Only respond with a general greeting if the user's message is exactly and only a simple greeting (e.g. "Hi", "Hello", "Good morning"). Do not add any other words or questions to the greeting.
* For any other type of message (questions, tasks, requests for information, commands), immediately proceed to identify and use the appropriate tool.

2. Tool Usage:
* You must use the appropriate tool for any question that requires factual information, current data, external knowledge, or an action you cannot perform internally.
* Carefully read each tool's description to understand its purpose, arguments, and when to use it.
* When using a tool, ensure all required arguments are provided accurately based on the user's query.
* If a tool call fails or returns an unexpected result, explain what happened and ask for clarification or suggest an alternative approach.
* When formulating your final answer, synthesize information from tool outputs naturally. Do not state "Based on the tool call result" or similar phrases. Present the answer directly as if it is your own knowledge.

3. Handling Ambiguity and Lack of Information:
* Only if you have tried to use tools and still cannot find an answer, or if no relevant tool exists for the query, may you politely state that you could not find the requested information.
* If a query is ambiguous, ask clarifying questions to better understand the user's intent.

4. Context and History:
* Remember previous turns in the conversation to maintain context.`

// ComposeSystemPrompt builds the system prompt for an agent. Sections are
// appended in a fixed order: persona, bio, knowledge, lore, style, then
// message examples. Empty sections are skipped.
func ComposeSystemPrompt(cfg *store.AgentConfig) string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)

	if cfg.System != "" {
		b.WriteString("\n\nYour persona: ")
		b.WriteString(cfg.System)
	}
	if len(cfg.Bio) > 0 {
		b.WriteString("\n\nYour bio: ")
		b.WriteString(strings.Join(cfg.Bio, "\n"))
	}
	if len(cfg.Knowledge) > 0 {
		b.WriteString("\n\nKnowledge: ")
		b.WriteString(strings.Join(cfg.Knowledge, "\n"))
	}
	if len(cfg.Lore) > 0 {
		b.WriteString("\n\nLore: ")
		b.WriteString(strings.Join(cfg.Lore, "\n"))
	}
	if s := indentJSON(cfg.Style); s != "" {
		b.WriteString("\n\nStyle: ")
		b.WriteString(s)
	}
	if s := indentJSON(cfg.MessageExamples); s != "" {
		b.WriteString("\n\nMessage Examples:\n")
		b.WriteString(s)
	}
	return b.String()
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
