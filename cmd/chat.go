package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var (
		serverURL string
		apiToken  string
		agentName string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with an agent over the gateway API",
		Long:  "Interactive REPL (or one-shot with a message argument) against a running gateway. Streams the agent's reply live over the WebSocket subscription.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiToken == "" {
				apiToken = os.Getenv("AVIARY_API_TOKEN")
			}
			if apiToken == "" {
				return fmt.Errorf("no API token: pass --token or set AVIARY_API_TOKEN")
			}
			message := ""
			if len(args) > 0 {
				message = args[0]
			}
			client := &chatClient{
				base:  strings.TrimRight(serverURL, "/"),
				token: apiToken,
				http:  &http.Client{Timeout: 5 * time.Minute},
			}
			return client.run(cmd.Context(), agentName, sessionID, message)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "gateway base URL")
	cmd.Flags().StringVar(&apiToken, "token", "", "API bearer token (default: $AVIARY_API_TOKEN)")
	cmd.Flags().StringVar(&agentName, "agent", "", "agent name (default: first of your agents)")
	cmd.Flags().StringVar(&sessionID, "session", "", "existing session id to resume")
	return cmd
}

type chatClient struct {
	base  string
	token string
	http  *http.Client
}

type agentSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ModelProvider string `json:"modelProvider"`
	Settings      struct {
		Model string `json:"model"`
	} `json:"settings"`
	TotalSessions int `json:"total_sessions"`
}

func (c *chatClient) run(ctx context.Context, agentName, sessionID, message string) error {
	agents, err := c.listAgents(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return fmt.Errorf("no agents available; create one with POST /agents/create")
	}

	agent, err := pickAgent(agents, agentName)
	if err != nil {
		printAgentTable(agents)
		return err
	}

	if sessionID == "" {
		sessionID, err = c.createSession(ctx, agent.ID, "CLI chat")
		if err != nil {
			return err
		}
	}

	wsToken, err := c.mintWSToken(ctx)
	if err != nil {
		return err
	}

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	agentDone := make(chan struct{}, 1)
	if err := c.subscribe(streamCtx, sessionID, wsToken, agentDone); err != nil {
		return err
	}

	if message != "" {
		return c.sendAndWait(ctx, sessionID, message, agentDone)
	}

	fmt.Fprintf(os.Stderr, "\nAviary chat (agent: %s, model: %s)\n", agent.Name, agent.Settings.Model)
	fmt.Fprintf(os.Stderr, "Session: %s\n", sessionID)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit\n\n")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return nil
		}
		if err := c.sendAndWait(ctx, sessionID, input, agentDone); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		}
	}
}

// sendAndWait posts one message and blocks until the subscription saw the
// agent's final reply (or the HTTP call itself fails).
func (c *chatClient) sendAndWait(ctx context.Context, sessionID, content string, agentDone <-chan struct{}) error {
	var resp map[string]any
	err := c.post(ctx, "/chat/sessions/"+sessionID+"/messages",
		map[string]string{"content": content}, &resp)
	if err != nil {
		return err
	}
	select {
	case <-agentDone:
	case <-time.After(2 * time.Second):
		// Final event can race the HTTP response; don't hang on a lost one.
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Println()
	return nil
}

func (c *chatClient) listAgents(ctx context.Context) ([]agentSummary, error) {
	var agents []agentSummary
	if err := c.get(ctx, "/agents/list", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (c *chatClient) createSession(ctx context.Context, agentID, title string) (string, error) {
	var session struct {
		ID string `json:"id"`
	}
	err := c.post(ctx, "/chat/sessions",
		map[string]string{"agent_id": agentID, "title": title}, &session)
	if err != nil {
		return "", err
	}
	return session.ID, nil
}

func (c *chatClient) mintWSToken(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/ws/token", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// subscribe opens the streaming WebSocket and prints events as they arrive.
// Each non-partial agent message signals agentDone.
func (c *chatClient) subscribe(ctx context.Context, sessionID, wsToken string, agentDone chan<- struct{}) error {
	wsURL, err := c.wsURL("/ws/chat/" + sessionID)
	if err != nil {
		return err
	}
	wsURL += "?token=" + url.QueryEscape(wsToken)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var event struct {
				Type    string         `json:"type"`
				Payload map[string]any `json:"payload"`
			}
			if err := json.Unmarshal(data, &event); err != nil {
				continue
			}
			switch event.Type {
			case "llm_stream_chunk":
				if content, ok := event.Payload["content"].(string); ok {
					fmt.Print(content)
				}
			case "message_created":
				role, _ := event.Payload["role"].(string)
				partial, _ := event.Payload["is_partial"].(bool)
				if role == "tool" {
					fmt.Fprintln(os.Stderr, "  [tool result received]")
				}
				if role == "agent" && !partial {
					select {
					case agentDone <- struct{}{}:
					default:
					}
				}
			}
		}
	}()
	return nil
}

func (c *chatClient) wsURL(path string) (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = path
	return u.String(), nil
}

func (c *chatClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *chatClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *chatClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func pickAgent(agents []agentSummary, name string) (agentSummary, error) {
	if name == "" {
		return agents[0], nil
	}
	for _, a := range agents {
		if a.Name == name || a.ID == name {
			return a, nil
		}
	}
	return agentSummary{}, fmt.Errorf("agent %q not found", name)
}

// printAgentTable renders the caller's agents with display-width-aware
// columns so CJK names stay aligned.
func printAgentTable(agents []agentSummary) {
	fmt.Fprintln(os.Stderr, "Available agents:")
	fmt.Fprintf(os.Stderr, "  %s %s %s\n",
		runewidth.FillRight("NAME", 24),
		runewidth.FillRight("PROVIDER", 12),
		"MODEL")
	for _, a := range agents {
		fmt.Fprintf(os.Stderr, "  %s %s %s\n",
			runewidth.FillRight(runewidth.Truncate(a.Name, 24, "..."), 24),
			runewidth.FillRight(a.ModelProvider, 12),
			a.Settings.Model)
	}
}
