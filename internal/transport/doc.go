// Package transport serves the gateway's request envelopes over HTTP.
//
// # Architecture
//
// Every HTTP request except the metrics scrape becomes one request envelope:
// the method, the URL path with its query string, and the JSON body. The
// dispatcher answers with one response envelope, which is written back as the
// HTTP status, the envelope headers, and the encoded envelope as the body.
//
// Package structure:
//
//	internal/transport/
//	├── transport.go              # Public types
//	├── errors.go                 # Transport errors
//	├── context.go                # Request id context helpers
//	├── wire.go                   # Factory functions
//	├── stdio/                    # Line-oriented transport
//	├── internal/
//	│   ├── http/
//	│   │   ├── server.go         # HTTP server with graceful shutdown
//	│   │   ├── router.go         # chi router with envelope 404/405
//	│   │   └── response.go       # Envelope responder
//	│   ├── middleware/
//	│   │   ├── recovery.go       # Panic recovery
//	│   │   ├── requestid.go      # X-Request-Id
//	│   │   ├── logging.go        # Request logging
//	│   │   ├── metrics.go        # Response counters
//	│   │   └── ratelimit.go      # Per-client request budget
//	│   └── handlers/
//	│       └── envelope.go       # HTTP to envelope conversion
//
// # Middleware Chain
//
// The middleware chain is applied in this order:
//
//  1. Recovery - catches panics and returns a 500 envelope
//  2. Request id - reuses or assigns X-Request-Id
//  3. Logging - logs request details
//  4. Metrics - counts responses by method and status (when enabled)
//  5. Rate limiting - envelope endpoints only (when enabled)
//
// # Endpoints
//
//   - GET /metrics - Prometheus exposition
//   - POST /_envelope - body is a complete request envelope
//   - anything else - converted to an envelope from the HTTP request
//
// # Usage Example
//
//	server, _, err := transport.NewTransportServices(&transport.Config{
//		ServerConfig: cfg,
//		Dispatcher:   rt,
//		Metrics:      m,
//		Limiter:      limiter,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	go server.Start()
package transport
