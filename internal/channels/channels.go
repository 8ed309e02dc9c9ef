// Package channels runs the native platform connections: a Discord gateway
// session and a Telegram long-polling loop that feed inbound messages to
// the owning agent and deliver its replies.
package channels

import (
	"context"
	"log/slog"
	"time"

	"github.com/nimbusworks/aviary/internal/agent"
	"github.com/nimbusworks/aviary/internal/lifecycle"
	"github.com/nimbusworks/aviary/internal/providers"
)

// turnTimeout bounds one inbound platform turn, tool round trips included.
const turnTimeout = 2 * time.Minute

// fallbackReply is sent when a platform turn produces no usable response.
const fallbackReply = "I'm sorry, I couldn't process that."

// Router resolves the agent owning a platform bot.
type Router interface {
	RoutePlatform(platform, botID string) (*lifecycle.Instance, error)
}

// Channel is a running platform connection.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// runTurn executes one stateless turn against the routed agent and returns
// the reply text. Errors collapse to the fallback reply.
func runTurn(ctx context.Context, inst *lifecycle.Instance, content string) string {
	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	result, err := inst.Runtime.Run(turnCtx, agent.TurnRequest{
		History: []providers.Message{{Role: "user", Content: content}},
	})
	if err != nil {
		slog.Error("channels.turn_failed", "agent", inst.Config.Name, "error", err)
		return fallbackReply
	}
	if result.Content == "" || result.ModelFailed {
		return fallbackReply
	}
	return result.Content
}
