// Package sink defines output backends for storewatch change batches.
package sink

import (
	"context"

	"github.com/hazyhaar/storewatch/storewatch/change"
)

// Sink is the output interface. Implementations deliver batches to
// different backends (stdout, webhook, websocket feed, in-process callback).
type Sink interface {
	Send(ctx context.Context, batch change.Batch) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
