package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/moto-storefront/internal/domain/order"
	"github.com/xenking/moto-storefront/internal/notify"
	"github.com/xenking/moto-storefront/internal/storage/memory"
	"github.com/xenking/moto-storefront/internal/webhook"
)

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, notify.Notification) bool { return true }

func writeArchive(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func payment(eventID, paymentID string) string {
	return fmt.Sprintf(`{"type":"payment.updated","event_id":%q,"data":{"type":"payment","id":%q,`+
		`"object":{"payment":{"id":%q,"status":"COMPLETED"}}}}`, eventID, paymentID, paymentID)
}

func refund(eventID, refundID, paymentID string, cents int64) string {
	return fmt.Sprintf(`{"type":"refund.updated","event_id":%q,"data":{"type":"refund","id":%q,`+
		`"object":{"refund":{"id":%q,"status":"COMPLETED","payment_id":%q,`+
		`"amount_money":{"amount":%d,"currency":"USD"}}}}}`, eventID, refundID, refundID, paymentID, cents)
}

func newReplayer(t *testing.T) (*Replayer, *memory.OrderRepository) {
	t.Helper()
	repo := memory.NewOrderRepository()
	require.NoError(t, repo.Create(context.Background(), &order.Order{
		ID:               "o1",
		OrderNumber:      "MS-REPLAY01",
		GatewayPaymentID: "pay_1",
		Items:            []order.OrderItem{{ProductID: "jkt-01", Quantity: 1}},
		Status:           order.StatusPending,
		PaymentStatus:    order.PaymentPending,
		TotalAmount:      decimal.RequireFromString("100.00"),
	}))

	d := webhook.NewDispatcher()
	webhook.NewReconciler(repo, discardNotifier{}).Register(d)
	return New(d, Options{Capacity: 1000}), repo
}

func TestReplayer_Run(t *testing.T) {
	r, repo := newReplayer(t)

	first := writeArchive(t, "2026-03-01.ndjson.gz",
		payment("evt-1", "pay_1"),
		refund("evt-2", "rf_1", "pay_1", 4000),
		refund("evt-2", "rf_1", "pay_1", 4000),
		`{not json`,
		`{"type":"inventory.count.updated","event_id":"evt-3","data":{}}`,
	)
	second := writeArchive(t, "2026-03-02.ndjson.gz",
		payment("evt-1", "pay_1"),
		refund("evt-4", "rf_2", "pay_1", 6000),
		payment("evt-5", "pay_unknown"),
	)

	stats, err := r.Run(context.Background(), []string{first, second})
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Events:     8,
		Applied:    3,
		Unmatched:  1,
		Ignored:    1,
		Duplicates: 2,
		Malformed:  1,
	}, stats)

	got, err := repo.GetByNumber(context.Background(), "MS-REPLAY01")
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, got.Status)
	assert.True(t, decimal.RequireFromString("100.00").Equal(got.RefundedAmount), "got %s", got.RefundedAmount)
}

func TestReplayer_RerunIsIdempotent(t *testing.T) {
	r, repo := newReplayer(t)
	archive := writeArchive(t, "events.ndjson.gz",
		payment("evt-1", "pay_1"),
		refund("evt-2", "rf_1", "pay_1", 2500),
	)

	_, err := r.Run(context.Background(), []string{archive})
	require.NoError(t, err)

	stats, err := r.Run(context.Background(), []string{archive})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Applied)
	assert.Equal(t, 2, stats.Unchanged)

	got, err := repo.GetByNumber(context.Background(), "MS-REPLAY01")
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)
	assert.Equal(t, order.PaymentPartiallyRefunded, got.PaymentStatus)
	assert.True(t, decimal.RequireFromString("25.00").Equal(got.RefundedAmount))
}

func TestReplayer_MissingArchive(t *testing.T) {
	r, _ := newReplayer(t)

	_, err := r.Run(context.Background(), []string{filepath.Join(t.TempDir(), "missing.gz")})
	require.Error(t, err)
}

func TestReplayer_NotGzip(t *testing.T) {
	r, _ := newReplayer(t)
	path := filepath.Join(t.TempDir(), "plain.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(payment("evt-1", "pay_1")+"\n"), 0o600))

	_, err := r.Run(context.Background(), []string{path})
	require.Error(t, err)
}
