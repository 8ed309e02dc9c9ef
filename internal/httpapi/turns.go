package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/nimbusworks/aviary/internal/agent"
	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/chat"
	"github.com/nimbusworks/aviary/internal/lifecycle"
	"github.com/nimbusworks/aviary/internal/store"
)

// runSessionTurn persists the user message, runs one agent turn with the
// session's recorder, and returns the final reply text. The recorder
// persists and broadcasts partials, tool traffic, and the final message.
// A failed model turn still persists the canned final message, then
// surfaces as a ModelError so the HTTP caller sees a 500.
func runSessionTurn(ctx context.Context, chatSvc *chat.Service, inst *lifecycle.Instance, sessionID uuid.UUID, userMessage string, stream bool) (string, error) {
	if _, err := chatSvc.AddMessage(ctx, sessionID, store.RoleUser, store.TextContent(userMessage), false); err != nil {
		return "", err
	}
	history, err := chatSvc.History(ctx, sessionID)
	if err != nil {
		return "", err
	}
	result, err := inst.Runtime.Run(ctx, agent.TurnRequest{
		History:  history,
		Stream:   stream,
		Recorder: chatSvc.Recorder(sessionID),
	})
	if err != nil {
		return "", err
	}
	if result.ModelFailed {
		chatSvc.PublishError(ctx, sessionID, agent.ErrorReply)
		return "", apperr.New(apperr.ModelError, "model failed to generate a response")
	}
	return result.Content, nil
}
