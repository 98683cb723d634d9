package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/moto-storefront/internal/domain/order"
)

// PlaceOrder handles POST /api/orders:
//
//	{"items":[{"productId":"jkt-01","quantity":2}],"gatewayPaymentId":"pay_1","gatewayOrderId":"ord_1"}
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	req, err := decodeCheckout(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.orders.Checkout(r.Context(), req)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("Order placed",
		zap.String("order_number", o.OrderNumber),
		zap.String("gateway_payment_id", o.GatewayPaymentID),
		zap.String("total_amount", o.TotalAmount.StringFixed(2)),
	)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// GetOrder handles GET /api/orders/{orderNumber}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByNumber(r.Context(), r.PathValue("orderNumber"))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// writeOrderError maps domain errors to HTTP responses.
func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		iqErr  *order.InvalidQuantityError
		pnfErr *order.ProductNotFoundError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems), errors.Is(err, order.ErrMissingPaymentID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.As(err, &pnfErr):
		writeError(w, http.StatusUnprocessableEntity, pnfErr.Error())
	case errors.Is(err, order.ErrDuplicatePaymentID):
		writeError(w, http.StatusConflict, order.ErrDuplicatePaymentID.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	default:
		zctx.From(r.Context()).Error("Order request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeCheckout(body []byte) (order.CheckoutRequest, error) {
	var req order.CheckoutRequest
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				req.Items = append(req.Items, item)
				return err
			})
		case "gatewayPaymentId":
			req.GatewayPaymentID, err = d.Str()
		case "gatewayOrderId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.GatewayOrderID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func decodeItem(d *jx.Decoder) (order.OrderItem, error) {
	var item order.OrderItem
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			item.ProductID, err = d.Str()
		case "quantity":
			item.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return item, err
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.OrderNumber) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("totalAmount", func(e *jx.Encoder) { encodeMoney(e, o.TotalAmount) })
		e.Field("refundedAmount", func(e *jx.Encoder) { encodeMoney(e, o.RefundedAmount) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, item := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(item.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
					})
				}
			})
		})
		if o.ProcessedAt != nil {
			e.Field("processedAt", func(e *jx.Encoder) { e.Str(o.ProcessedAt.UTC().Format(time.RFC3339)) })
		}
	})
}

// encodeMoney writes the amount as a JSON number with two fraction digits.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}
