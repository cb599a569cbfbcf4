package audit

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	pkgctx "github.com/baechuer/chatdesk-auth/internal/pkg/context"
)

// Logger writes auth business events as structured lines tagged audit=true.
type Logger struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Bool("audit", true).Logger()}
}

// failures and anything touching credentials log at warn
var warnActions = map[string]bool{
	"login_failed":           true,
	"otp_delivery_failed":    true,
	"pending_cleanup_failed": true,
	"reset_token_mismatch":   true,
}

// Record matches the hook signature auth.Service.WithAudit expects. Email
// values are masked before they reach the log.
func (l *Logger) Record(ctx context.Context, action string, fields map[string]string) {
	ev := l.log.Info()
	if warnActions[action] {
		ev = l.log.Warn()
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ev = ev.Str("action", action)
	for _, k := range keys {
		v := fields[k]
		if k == "email" {
			v = maskEmail(v)
		}
		ev = ev.Str(k, v)
	}
	if rid := pkgctx.GetRequestID(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	ev.Msg(strings.ReplaceAll(action, "_", " "))
}

// maskEmail keeps the first two characters of the local part and the domain.
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if len(email) < 5 || at < 0 {
		return "***"
	}
	if at < 2 {
		return email[:1] + "***" + email[at:]
	}
	return email[:2] + "***" + email[at:]
}
