package webhook

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// SignatureHeader names the header carrying the gateway signature.
	SignatureHeader string
	// MaxBodyBytes caps the accepted request body.
	MaxBodyBytes int64
}

// Handler is the HTTP endpoint receiving gateway webhooks. A delivery moves
// through received, verified and dispatched; anything that fails before
// verification is answered with 401.
type Handler struct {
	verifier   *Verifier
	dispatcher *Dispatcher
	header     string
	maxBody    int64
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig, verifier *Verifier, dispatcher *Dispatcher) *Handler {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		verifier:   verifier,
		dispatcher: dispatcher,
		header:     cfg.SignatureHeader,
		maxBody:    cfg.MaxBodyBytes,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResult(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		lg.Warn("Read webhook body", zap.Error(err))
		writeResult(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ok, err := h.verifier.Verify(body, r.Header.Get(h.header))
	switch {
	case errors.Is(err, ErrMissingSecret):
		lg.Error("Webhook rejected: signing secret not configured",
			zap.String("security_event", "config"))
		writeResult(w, http.StatusUnauthorized, "unauthorized")
		return
	case err != nil:
		lg.Warn("Webhook rejected: signature missing",
			zap.String("security_event", "missing_signature"), zap.Error(err))
		writeResult(w, http.StatusUnauthorized, "unauthorized")
		return
	case !ok:
		lg.Warn("Webhook rejected: signature mismatch",
			zap.String("security_event", "spoofing_attempt"),
			zap.Int("body_bytes", len(body)))
		writeResult(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	env, err := DecodeEnvelope(body)
	if err != nil {
		lg.Warn("Malformed webhook envelope", zap.Error(err))
		writeResult(w, http.StatusBadRequest, "malformed payload")
		return
	}
	ctx = zctx.With(ctx,
		zap.String("event_type", env.Type),
		zap.String("event_id", env.EventID),
	)

	res, err := h.dispatcher.Dispatch(ctx, env)
	if err != nil {
		if IsPayloadError(err) {
			zctx.From(ctx).Warn("Malformed webhook object", zap.Error(err))
			writeResult(w, http.StatusBadRequest, "malformed payload")
			return
		}
		zctx.From(ctx).Error("Webhook processing failed", zap.Error(err))
		writeResult(w, http.StatusInternalServerError, "internal error")
		return
	}

	zctx.From(ctx).Debug("Webhook handled", zap.String("state", string(res.State)))
	writeResult(w, http.StatusOK, "")
}

// writeResult writes {"success":true} for 200 and
// {"success":false,"error":msg} otherwise.
func writeResult(w http.ResponseWriter, status int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(status == http.StatusOK) })
		if msg != "" {
			e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
