package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger binds the process-wide console logger to the app identity.
// Level and format policy live in the logging package; this only wires the
// writer and the root fields.
func InitLogger(app string) zerolog.Logger {
	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(writer).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// RunLogger derives a logger scoped to one migration run.
func RunLogger(run string) zerolog.Logger {
	return log.Logger.With().Str("run", run).Logger()
}
