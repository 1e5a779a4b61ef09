package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	m := New()

	m.SaleCommitted(10 * time.Millisecond)
	m.SaleCommitted(20 * time.Millisecond)
	m.SaleVoided(5 * time.Millisecond)
	m.SaleFailed("create", "insufficient_stock")
	m.NotificationFailed("sale.committed")

	if got := testutil.ToFloat64(m.salesCommitted); got != 2 {
		t.Fatalf("expected 2 committed sales, got %v", got)
	}
	if got := testutil.ToFloat64(m.salesVoided); got != 1 {
		t.Fatalf("expected 1 voided sale, got %v", got)
	}
	if got := testutil.ToFloat64(m.saleFailures.WithLabelValues("create", "insufficient_stock")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.notifyFailures.WithLabelValues("sale.committed")); got != 1 {
		t.Fatalf("expected 1 notification failure, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SaleCommitted(time.Millisecond)
	m.CacheLookup(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"possale_sales_committed_total", "possale_analytics_cache_lookups_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in output", name)
		}
	}
}
