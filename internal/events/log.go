package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogObserver writes every event as a structured log line.
type LogObserver struct {
	log zerolog.Logger
}

// NewLogObserver returns an observer logging at info level.
func NewLogObserver(log zerolog.Logger) *LogObserver {
	return &LogObserver{log: log.With().Str("component", "events").Logger()}
}

func (o *LogObserver) Notify(_ context.Context, e Event) {
	ev := o.log.Info().Str("event", string(e.Type)).Str("subject", e.Subject)
	if len(e.Data) > 0 {
		ev = ev.Fields(e.Data)
	}
	ev.Msg("event")
}
