package agentcli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/harun/alzassist/internal/observability"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Stream identifies one of the agent's output channels
type Stream string

const (
	// StreamPrimary is the agent's standard output
	StreamPrimary Stream = "primary"
	// StreamDiagnostic is the agent's standard error; it carries tool-call narration
	StreamDiagnostic Stream = "diagnostic"
	// StreamInput is the agent's standard input
	StreamInput Stream = "input"
)

// Line is one complete line of agent output, without its terminator
type Line struct {
	Stream Stream `json:"stream"`
	Text   string `json:"text"`
}

// Sink receives output lines while a turn is running. It is called from one
// goroutine per stream, so it may run concurrently with itself.
type Sink func(Line)

// SerializeSink wraps s so that calls never overlap
func SerializeSink(s Sink) Sink {
	if s == nil {
		return nil
	}
	var mu sync.Mutex
	return func(l Line) {
		mu.Lock()
		defer mu.Unlock()
		s(l)
	}
}

// Output holds every line read from each stream, in arrival order. Lines
// have their terminators removed; the Text methods return the bytes exactly
// as the agent wrote them.
type Output struct {
	Primary    []string
	Diagnostic []string

	primaryRaw    string
	diagnosticRaw string
}

// PrimaryText returns everything read from the primary stream
func (o Output) PrimaryText() string {
	return o.primaryRaw
}

// DiagnosticText returns everything read from the diagnostic stream
func (o Output) DiagnosticText() string {
	return o.diagnosticRaw
}

// Pump drains the two output streams of an agent process
type Pump struct {
	logger zerolog.Logger
}

// NewPump creates a stream pump
func NewPump(logger zerolog.Logger) *Pump {
	return &Pump{logger: logger.With().Str("module", "agentcli.pump").Logger()}
}

// Drain reads primary and diagnostic concurrently until both reach EOF.
//
// When ctx ends or one stream fails, readers that implement io.Closer are
// closed so the other read loop unblocks. The returned Output holds whatever
// was read, also on error.
func (p *Pump) Drain(ctx context.Context, primary, diagnostic io.Reader, sink Sink) (Output, error) {
	var out Output
	g, gctx := errgroup.WithContext(ctx)

	// gctx also ends once Wait returns, after both loops are done.
	stop := context.AfterFunc(gctx, func() {
		closeReader(primary)
		closeReader(diagnostic)
	})

	g.Go(func() error {
		lines, raw, err := p.readLines(gctx, StreamPrimary, primary, sink)
		out.Primary, out.primaryRaw = lines, raw
		return err
	})
	g.Go(func() error {
		lines, raw, err := p.readLines(gctx, StreamDiagnostic, diagnostic, sink)
		out.Diagnostic, out.diagnosticRaw = lines, raw
		return err
	})

	err := g.Wait()
	stop()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if err != nil {
		p.logger.Debug().Err(err).Msg("Stream drain failed")
	}
	return out, err
}

func (p *Pump) readLines(ctx context.Context, stream Stream, src io.Reader, sink Sink) ([]string, string, error) {
	if src == nil {
		return nil, "", nil
	}

	r := bufio.NewReader(src)
	var (
		lines []string
		raw   strings.Builder
	)
	for {
		text, err := r.ReadString('\n')
		raw.WriteString(text)
		if err != nil && !errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				return lines, raw.String(), ctx.Err()
			}
			return lines, raw.String(), &StreamIOError{Stream: stream, Op: "read", Err: err}
		}

		if text != "" {
			text = strings.TrimSuffix(text, "\n")
			text = strings.TrimSuffix(text, "\r")
			lines = append(lines, text)
			observability.RecordStreamLine(string(stream))
			if sink != nil {
				sink(Line{Stream: stream, Text: text})
			}
		}

		if err != nil {
			return lines, raw.String(), nil
		}
		if ctx.Err() != nil {
			return lines, raw.String(), ctx.Err()
		}
	}
}

func closeReader(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}
