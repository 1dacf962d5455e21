package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext adds the identifiers found in ctx to baseLogger
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	if tc.TraceID == "" && tc.TurnID == "" && tc.SessionKey == "" && tc.ClientID == "" {
		return baseLogger
	}

	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		lc = lc.Str("turn_id", tc.TurnID)
	}
	if tc.SessionKey != "" {
		lc = lc.Str("session_key", tc.SessionKey)
	}
	if tc.ClientID != "" {
		lc = lc.Str("client_id", tc.ClientID)
	}
	return lc.Logger()
}

// Detach returns a background context carrying the identifiers of ctx but
// none of its deadline or cancellation.
func Detach(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	out := context.Background()
	if tc.TraceID != "" {
		out = WithTraceID(out, tc.TraceID)
	}
	if tc.TurnID != "" {
		out = WithTurnID(out, tc.TurnID)
	}
	if tc.SessionKey != "" {
		out = WithSessionKey(out, tc.SessionKey)
	}
	if tc.ClientID != "" {
		out = WithClientID(out, tc.ClientID)
	}
	return out
}
