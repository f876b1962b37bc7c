package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreRegistered(t *testing.T) {
	s := New()
	s.TokensIssued.Inc()
	s.Verifications.WithLabelValues("ok").Inc()
	s.Verifications.WithLabelValues("expired").Add(2)
	s.LoginDecisions.WithLabelValues("needs_consent").Inc()
	s.Throttled.Inc()

	if got := testutil.ToFloat64(s.TokensIssued); got != 1 {
		t.Fatalf("tokens issued: got %v", got)
	}
	if got := testutil.ToFloat64(s.Verifications.WithLabelValues("expired")); got != 2 {
		t.Fatalf("expired verifications: got %v", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	s := New()
	s.TokensIssued.Inc()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "latchkey_login_tokens_issued_total 1") {
		t.Fatalf("expected issued counter in exposition, got:\n%s", body)
	}
}

func TestSetsAreIsolated(t *testing.T) {
	a := New()
	b := New()
	a.TokensIssued.Inc()
	if got := testutil.ToFloat64(b.TokensIssued); got != 0 {
		t.Fatalf("registries should not share state, got %v", got)
	}
}
