package telegram

import (
	"net"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const (
	RunModeWebhook  = "webhook"
	RunModeLongpoll = "longpoll"

	defaultPollTimeout = 10 * time.Second
)

// subscribedUpdates limits delivery to the update kinds the routes handle:
// text, locations and commands arrive as messages, buttons as callback queries.
var subscribedUpdates = []string{"message", "callback_query"}

// WebhookOptions declares webhook listener settings. Secret, when set, is sent to
// Telegram and checked on every incoming request.
type WebhookOptions struct {
	Listen string
	Port   int
	URL    string
	Secret string
}

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	RunMode                string
	LongPollTimeoutSeconds int
	Webhook                WebhookOptions
}

func (o PollerOptions) pollTimeout() time.Duration {
	if o.LongPollTimeoutSeconds > 0 {
		return time.Duration(o.LongPollTimeoutSeconds) * time.Second
	}
	return defaultPollTimeout
}

// BuildPoller picks a webhook for run mode "webhook" and a long poller otherwise.
func BuildPoller(opts PollerOptions) tele.Poller {
	allowed := append([]string(nil), subscribedUpdates...)
	if !strings.EqualFold(strings.TrimSpace(opts.RunMode), RunModeWebhook) {
		return &tele.LongPoller{Timeout: opts.pollTimeout(), AllowedUpdates: allowed}
	}
	return &tele.Webhook{
		Listen:         net.JoinHostPort(opts.Webhook.Listen, strconv.Itoa(opts.Webhook.Port)),
		SecretToken:    opts.Webhook.Secret,
		AllowedUpdates: allowed,
		Endpoint:       &tele.WebhookEndpoint{PublicURL: opts.Webhook.URL},
	}
}
