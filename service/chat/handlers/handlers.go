// Package handlers holds one Handler per inbound socket event. Handlers
// return coded errors; the dispatcher turns those into ERROR frames and
// keeps the connection alive.
package handlers

import (
	"context"
	"time"
)

const opTimeout = 5 * time.Second

// opCtx caps one event's backend work.
func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}
