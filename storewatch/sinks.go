package storewatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/render"
	"github.com/hazyhaar/storewatch/storewatch/internal/sink"
)

// Sink is the output interface for change batches.
type Sink = sink.Sink

// BatchFunc is called for each batch.
type BatchFunc = sink.BatchFunc

// NewStdoutSink creates a JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(onBatch func(ctx context.Context, batch change.Batch) error) Sink {
	return sink.NewCallback(onBatch)
}

// NewPrettySink writes one human-readable line per record, with value
// diffs. colorize forces ANSI colors on or off.
func NewPrettySink(w io.Writer, colorize bool) Sink {
	r := render.New(w, colorize)
	return sink.NewCallback(func(_ context.Context, batch change.Batch) error {
		return r.Batch(batch)
	})
}

// SinksFromConfig builds the sinks listed in cfg. stdout sinks write to w.
func SinksFromConfig(cfgs []SinkConfig, w io.Writer, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for _, c := range cfgs {
		switch c.Type {
		case "stdout":
			out = append(out, sink.NewStdout(w))
		case "webhook":
			out = append(out, sink.NewWebhook(c.URL,
				sink.WithWebhookRetries(c.RetryCount()),
				sink.WithWebhookBackoff(c.Backoff),
				sink.WithWebhookLogger(logger),
			))
		default:
			return nil, fmt.Errorf("storewatch: unknown sink type %q", c.Type)
		}
	}
	return out, nil
}
