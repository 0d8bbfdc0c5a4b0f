package httpserver

import (
	"context"
	"time"
)

// ShutdownTimeout controls how long to wait for graceful shutdowns.
var ShutdownTimeout = 10 * time.Second

// ShutdownContext returns a context bounded by ShutdownTimeout that is not
// tied to parent cancellation, so cleanup can run after a signal.
func ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), ShutdownTimeout)
}
