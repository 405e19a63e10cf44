package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogSender writes the work package to the log instead of delivering it.
// It always succeeds; it is the development default.
type LogSender struct {
	log logrus.FieldLogger
}

func NewLogSender(log logrus.FieldLogger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, env Envelope) Result {
	start := time.Now()

	emails := make([]string, 0, len(env.Recipients))
	for _, r := range env.Recipients {
		emails = append(emails, r.Email)
	}

	s.log.WithFields(logrus.Fields{
		"run_id":        env.RunID,
		"automation_id": env.AutomationID,
		"automation":    env.Automation,
		"scheduled_for": env.ScheduledFor.UTC().Format(time.RFC3339),
		"recipients":    strings.Join(emails, ","),
		"subject":       env.Package.Subject,
		"tasks":         len(env.Package.Tasks),
	}).Info("dispatcher: work package")

	return Result{Duration: time.Since(start)}
}
