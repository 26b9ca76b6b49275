package transport

import (
	"github.com/jamesprial/admanager-gateway/internal/transport/transportcore"
)

// Re-export errors from transportcore.
var (
	// ErrServerClosed indicates the server has been closed and cannot accept requests.
	ErrServerClosed = transportcore.ErrServerClosed

	// ErrBodyTooLarge indicates the request body exceeded the configured limit.
	ErrBodyTooLarge = transportcore.ErrBodyTooLarge
)
