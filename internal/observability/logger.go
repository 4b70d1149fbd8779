package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	loggerOnce   sync.Once
	globalLogger zerolog.Logger
)

// InitLogger configures the process logger. Only the first call takes
// effect; later calls, including the implicit one in GetLogger, are no-ops.
func InitLogger(level string, pretty bool) {
	loggerOnce.Do(func() {
		logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil || level == "" {
			logLevel = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(logLevel)

		var out io.Writer = os.Stdout
		if pretty {
			out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
		globalLogger = zerolog.New(out).With().
			Timestamp().
			Str("service", serviceName).
			Logger()
		log.Logger = globalLogger
	})
}

// GetLogger returns the process logger, initialising it at info level if
// InitLogger was never called.
func GetLogger() zerolog.Logger {
	InitLogger("info", false)
	return globalLogger
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return GetLogger().With().Str("component", component).Logger()
}

// SessionLogger creates the per-session logger carried by a controller and
// its bridges. An empty correlationID gets a fresh one.
func SessionLogger(correlationID, interviewID, userID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().
		Str("component", "session").
		Str("correlation_id", correlationID).
		Str("interview_id", interviewID).
		Str("user_id", userID).
		Logger()
}

func NewCorrelationID() string {
	return uuid.NewString()
}
