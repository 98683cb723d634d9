package webhook

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Event types routed by the dispatcher.
const (
	TypePaymentUpdated = "payment.updated"
	TypeOrderUpdated   = "order.updated"
	TypeRefundUpdated  = "refund.updated"
)

// ErrMalformedPayload is returned when a verified body is not valid JSON of
// the expected shape.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// ValidationError lists the payload fields that failed validation.
type ValidationError struct {
	Object string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Object, strings.Join(e.Fields, ", "))
}

// IsPayloadError reports whether err was caused by the payload itself, as
// opposed to infrastructure. Redelivering such a payload cannot succeed.
func IsPayloadError(err error) bool {
	var verr *ValidationError
	return errors.Is(err, ErrMalformedPayload) || errors.As(err, &verr)
}

// Envelope is the outer shape shared by every gateway event.
type Envelope struct {
	MerchantID string
	Type       string `validate:"required"`
	EventID    string
	CreatedAt  string
	Data       EventData
}

// EventData carries the changed object. Object stays raw until a handler
// decodes it for its event type.
type EventData struct {
	Type   string
	ID     string
	Object jx.Raw
}

// Money is an amount in the currency's minor unit.
type Money struct {
	Amount   int64 `validate:"gte=0"`
	Currency string
}

// Decimal converts minor units to a decimal amount with two fraction digits.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -2)
}

// Payment is the object carried by payment.updated.
type Payment struct {
	ID          string `validate:"required"`
	Status      string `validate:"required"`
	OrderID     string
	AmountMoney Money
}

// Refund is the object carried by refund.updated.
type Refund struct {
	ID          string `validate:"required"`
	Status      string `validate:"required"`
	PaymentID   string `validate:"required_without=OrderID"`
	OrderID     string
	AmountMoney Money
}

// OrderUpdate is the object carried by order.updated.
type OrderUpdate struct {
	OrderID string `validate:"required"`
	State   string
	Version int64
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateStruct(object string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(err, "validate")
	}
	out := &ValidationError{Object: object}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, fe.Namespace()+" "+fe.Tag())
	}
	return out
}

// DecodeEnvelope parses and validates the outer event shape.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	d := jx.DecodeBytes(body)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "merchant_id":
			env.MerchantID, err = optStr(d)
		case "type":
			env.Type, err = optStr(d)
		case "event_id":
			env.EventID, err = optStr(d)
		case "created_at":
			env.CreatedAt, err = optStr(d)
		case "data":
			err = env.Data.decode(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, "envelope: %v", err)
	}
	if err := validateStruct("event", env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *EventData) decode(d *jx.Decoder) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "type":
			e.Type, err = optStr(d)
		case "id":
			e.ID, err = optStr(d)
		case "object":
			var raw jx.Raw
			raw, err = d.Raw()
			e.Object = append(jx.Raw(nil), raw...)
		default:
			err = d.Skip()
		}
		return err
	})
}

// objectField decodes the member named key of the data object with fn.
func (env *Envelope) objectField(key string, fn func(d *jx.Decoder) error) error {
	if len(env.Data.Object) == 0 {
		return errors.Wrapf(ErrMalformedPayload, "%s: data.object missing", env.Type)
	}
	found := false
	d := jx.DecodeBytes(env.Data.Object)
	if err := d.ObjBytes(func(d *jx.Decoder, k []byte) error {
		if string(k) != key {
			return d.Skip()
		}
		found = true
		return fn(d)
	}); err != nil {
		return errors.Wrapf(ErrMalformedPayload, "%s: %v", env.Type, err)
	}
	if !found {
		return errors.Wrapf(ErrMalformedPayload, "%s: data.object.%s missing", env.Type, key)
	}
	return nil
}

// Payment decodes data.object.payment.
func (env *Envelope) Payment() (*Payment, error) {
	var p Payment
	if err := env.objectField("payment", func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				p.ID, err = optStr(d)
			case "status":
				p.Status, err = optStr(d)
			case "order_id":
				p.OrderID, err = optStr(d)
			case "amount_money":
				err = p.AmountMoney.decode(d)
			default:
				err = d.Skip()
			}
			return err
		})
	}); err != nil {
		return nil, err
	}
	if err := validateStruct("payment", p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Refund decodes data.object.refund.
func (env *Envelope) Refund() (*Refund, error) {
	var r Refund
	if err := env.objectField("refund", func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				r.ID, err = optStr(d)
			case "status":
				r.Status, err = optStr(d)
			case "payment_id":
				r.PaymentID, err = optStr(d)
			case "order_id":
				r.OrderID, err = optStr(d)
			case "amount_money":
				err = r.AmountMoney.decode(d)
			default:
				err = d.Skip()
			}
			return err
		})
	}); err != nil {
		return nil, err
	}
	if err := validateStruct("refund", r); err != nil {
		return nil, err
	}
	return &r, nil
}

// OrderUpdate decodes data.object.order_updated.
func (env *Envelope) OrderUpdate() (*OrderUpdate, error) {
	var o OrderUpdate
	if err := env.objectField("order_updated", func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "order_id":
				o.OrderID, err = optStr(d)
			case "state":
				o.State, err = optStr(d)
			case "version":
				o.Version, err = d.Int64()
			default:
				err = d.Skip()
			}
			return err
		})
	}); err != nil {
		return nil, err
	}
	if err := validateStruct("order_updated", o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (m *Money) decode(d *jx.Decoder) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "amount":
			m.Amount, err = d.Int64()
		case "currency":
			m.Currency, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

// optStr reads a string, treating null as empty.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
