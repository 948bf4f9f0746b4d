package webhook

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/losehrt/fhirlinebot-sub000/internal/webhook/event"
)

// HandlerFunc handles one event variant.
type HandlerFunc func(ctx context.Context, ev event.Event, kit Toolkit) error

// Dispatcher routes events to handlers by variant tag.
type Dispatcher struct {
	handlers map[event.Type]HandlerFunc
	logger   *zap.Logger
}

// NewDispatcher builds a dispatcher over table. Event types missing from the
// table are logged and ignored.
func NewDispatcher(table map[event.Type]HandlerFunc, logger *zap.Logger) *Dispatcher {
	handlers := make(map[event.Type]HandlerFunc, len(table))
	for k, v := range table {
		handlers[k] = v
	}
	return &Dispatcher{handlers: handlers, logger: logger}
}

func (d *Dispatcher) log() *zap.Logger {
	if d.logger != nil {
		return d.logger
	}
	return zap.L()
}

// Dispatch runs the handler for ev. Handler panics are returned as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event, kit Toolkit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log().Error("webhook handler panic",
				zap.String("event_type", string(ev.Kind())),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("webhook: %s handler panicked: %v", ev.Kind(), r)
		}
	}()

	h, ok := d.handlers[ev.Kind()]
	if !ok {
		d.log().Info("unhandled webhook event", zap.String("event_type", string(ev.Kind())), zap.String("raw_type", ev.Meta().Type))
		return nil
	}
	return h(ctx, ev, kit)
}
