// Package notifier implements capability.Notifier by fanning a message
// out across channels: Slack channels via slack-go/slack, and a "file"
// channel that writes to a local directory the way the teacher's
// pkg/notification/delivery file service does (temp file then rename,
// so a failed write never leaves a partial file behind).
package notifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slack-go/slack"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/breaker"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/clockid"
)

// Config parametrizes the Slack and file backends. Channels addressed by
// Send are routed by a "slack:" / "file:" prefix; an unprefixed channel
// name is treated as a Slack channel for backward compatibility with
// plain channel-name configuration.
type Config struct {
	SlackToken string
	FileDir    string
}

type Notifier struct {
	cfg     Config
	slack   *slack.Client
	clock   clockid.Clock
	breaker *breaker.Breaker
}

func New(cfg Config) *Notifier {
	return &Notifier{
		cfg:     cfg,
		slack:   slack.New(cfg.SlackToken),
		clock:   clockid.NewRealClock(),
		breaker: breaker.New(breaker.DefaultConfig("notifier")),
	}
}

// Send implements capability.Notifier, delivering independently to each
// channel and reporting a per-channel success/failure split.
func (n *Notifier) Send(ctx context.Context, message string, channels []string, metadata map[string]string) (capability.NotifyResult, error) {
	result := capability.NotifyResult{}

	for _, channel := range channels {
		var err error
		if dir, ok := strings.CutPrefix(channel, "file:"); ok {
			err = n.deliverFile(dir, message, metadata)
		} else {
			slackChannel := strings.TrimPrefix(channel, "slack:")
			_, err = n.deliverSlack(ctx, slackChannel, message)
		}

		if err != nil {
			result.Failed = append(result.Failed, channel)
		} else {
			result.Sent = append(result.Sent, channel)
		}
	}

	switch {
	case len(result.Failed) == 0:
		result.Status = capability.NotifySuccess
	case len(result.Sent) == 0:
		result.Status = capability.NotifyFailed
	default:
		result.Status = capability.NotifyPartial
	}

	if result.Status == capability.NotifyFailed {
		return result, apperrors.New(apperrors.ErrorTypeNetwork, "all notification channels failed")
	}
	return result, nil
}

func (n *Notifier) deliverSlack(ctx context.Context, channel, message string) (string, error) {
	result, err := n.breaker.Call(ctx, func() (any, error) {
		_, timestamp, err := n.slack.PostMessageContext(ctx, channel, slack.MsgOptionText(message, false))
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "slack post message")
		}
		return timestamp, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// deliverFile writes message to a new file under dir, via a temp file
// plus rename so a failed write never leaves a partial file behind.
func (n *Notifier) deliverFile(dir, message string, metadata map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "failed to create output directory")
	}

	name := fmt.Sprintf("notification-%d.txt", n.clock.Now().UnixNano())
	tmpPath := filepath.Join(dir, "."+name+".tmp")
	finalPath := filepath.Join(dir, name)

	content := message
	if len(metadata) > 0 {
		content += "\n\n---\n"
		for k, v := range metadata {
			content += fmt.Sprintf("%s: %s\n", k, v)
		}
	}

	if err := os.WriteFile(tmpPath, []byte(content), 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "failed to write temporary file")
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "failed to finalize notification file")
	}
	return nil
}
