package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	pkgctx "github.com/baechuer/chatdesk-auth/internal/pkg/context"
)

var Logger zerolog.Logger

func Init() {
	InitWithWriter(os.Stdout)
}

// InitWithWriter reads LOG_LEVEL (default info) and LOG_FORMAT
// ("json" or "console", default console).
func InitWithWriter(w io.Writer) {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || os.Getenv("LOG_LEVEL") == "" {
		level = zerolog.InfoLevel
	}

	if os.Getenv("LOG_FORMAT") == "json" {
		Logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger().Level(level)
	}

	zlog.Logger = Logger
}

// WithCtx returns the global logger annotated with the request id, if any.
func WithCtx(ctx context.Context) *zerolog.Logger {
	l := Logger
	if rid := pkgctx.GetRequestID(ctx); rid != "" {
		l = l.With().Str("request_id", rid).Logger()
	}
	return &l
}
