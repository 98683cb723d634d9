// Package handler serves the storefront JSON endpoints backed by the order
// service: checkout and order status.
package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/moto-storefront/internal/domain/order"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// MaxBodyBytes caps checkout request bodies. Zero selects 64 KiB.
	MaxBodyBytes int64
}

// Handler exposes the order service over HTTP.
type Handler struct {
	orders  *order.Service
	maxBody int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, orders *order.Service) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{
		orders:  orders,
		maxBody: cfg.MaxBodyBytes,
	}
}

// writeJSON encodes the object produced by fn with the given status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError writes {"code":status,"message":msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}
