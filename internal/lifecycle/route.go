package lifecycle

import (
	"log/slog"
	"sort"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/toolfed"
)

// Supported inbound platforms.
const (
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"
)

// RoutePlatform finds the agent that owns an inbound platform message. The
// match requires the platform's send tool and the registered bot id; the
// default seed agent never receives platform traffic. Iteration is sorted
// by agent name so repeated lookups are stable.
func (m *Manager) RoutePlatform(platform, botID string) (*Instance, error) {
	var sendTool string
	switch platform {
	case PlatformTelegram:
		sendTool = toolfed.ToolSendTelegram
	case PlatformDiscord:
		sendTool = toolfed.ToolSendDiscord
	default:
		return nil, apperr.Newf(apperr.Validation, "unknown platform %q", platform)
	}

	instances := m.snapshot()
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Config.Name < instances[j].Config.Name
	})

	for _, inst := range instances {
		if m.defaultAgentName != "" && inst.Config.Name == m.defaultAgentName {
			continue
		}
		if !inst.Runtime.Tools().Has(sendTool) {
			continue
		}

		instBotID := inst.TelegramBotID
		if platform == PlatformDiscord {
			instBotID = inst.DiscordBotID
		}
		if instBotID != "" && instBotID == botID {
			slog.Info("lifecycle.route.matched",
				"platform", platform,
				"agent", inst.Config.Name,
				"bot_id", botID,
			)
			return inst, nil
		}
	}

	slog.Warn("lifecycle.route.no_agent", "platform", platform, "bot_id", botID)
	return nil, apperr.Newf(apperr.NotFound, "no agent for bot ID %s", botID)
}
