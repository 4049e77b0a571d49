package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTransaction(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewProtocolCollector(reg)
	if err != nil {
		t.Fatalf("NewProtocolCollector: %v", err)
	}
	c.ObserveTransaction("j", "ok", 20*time.Millisecond)
	c.ObserveTransaction("j", "ok", 30*time.Millisecond)
	c.ObserveTransaction("G", "protocol_error", time.Millisecond)
	c.ObserveRetry("j")

	if got := testutil.ToFloat64(c.Transactions.WithLabelValues("j", "ok")); got != 2 {
		t.Errorf("transactions{j,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Transactions.WithLabelValues("G", "protocol_error")); got != 1 {
		t.Errorf("transactions{G,protocol_error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Retries.WithLabelValues("j")); got != 1 {
		t.Errorf("retries{j} = %v, want 1", got)
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewProtocolCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewProtocolCollector(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	a.ObserveRetry("e")
	if got := testutil.ToFloat64(b.Retries.WithLabelValues("e")); got != 1 {
		t.Errorf("shared retries = %v, want 1", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *ProtocolCollector
	c.ObserveTransaction("j", "ok", time.Millisecond)
	c.ObserveRetry("j")
	c.SetAxisPosition("ra", 10)
	c.SetConnected(true)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewProtocolCollector(reg)
	if err != nil {
		t.Fatalf("NewProtocolCollector: %v", err)
	}
	c.SetConnected(true)
	c.SetAxisPosition("dec", 90)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{"mount_connected 1", `mount_axis_position_degrees{axis="dec"} 90`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q:\n%s", want, body)
		}
	}
}
