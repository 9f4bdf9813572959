package dispatch

import (
	"context"
	"errors"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
)

// Stream event kinds, emitted in this order.
const (
	StreamStarted   = "started"
	StreamCompleted = "completed"
	StreamDone      = "done"
)

// StreamEvent is one frame of a streamed tool call.
type StreamEvent struct {
	Kind   string
	CallID string
	Tool   string
	Record *models.CallRecord
}

// Stream performs req and reports progress through emit. An unknown tool fails
// before anything is emitted; an emit error aborts the stream.
func (d *Dispatcher) Stream(ctx context.Context, req CallRequest, emit func(StreamEvent) error) error {
	if emit == nil {
		return errors.New("stream: emit callback required")
	}
	if !d.catalog.Has(tools.ID(req.Tool)) {
		return &UnknownToolError{Tool: req.Tool, Available: d.catalog.Names()}
	}
	if req.CallID == "" {
		req.CallID = NewCallID()
	}

	if err := emit(StreamEvent{Kind: StreamStarted, CallID: req.CallID, Tool: req.Tool}); err != nil {
		return err
	}

	rec, err := d.HandleCall(ctx, req)
	if err != nil {
		return err
	}
	if err := emit(StreamEvent{Kind: StreamCompleted, CallID: rec.CallID, Tool: rec.Tool, Record: &rec}); err != nil {
		return err
	}
	return emit(StreamEvent{Kind: StreamDone, CallID: rec.CallID, Tool: rec.Tool})
}
