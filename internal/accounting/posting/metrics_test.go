package posting

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

func TestOutcomeLabels(t *testing.T) {
	cases := map[string]error{
		"posted":            nil,
		"already_posted":    &shared.AlreadyPostedError{},
		"missing_account":   &shared.ResolutionError{Module: shared.ModuleSales},
		"invalid_dimension": fmt.Errorf("wrapped: %w", &shared.DimensionError{}),
		"unbalanced":        &shared.UnbalancedError{},
		"error":             errors.New("boom"),
	}
	for want, err := range cases {
		if got := outcome(err); got != want {
			t.Fatalf("outcome(%v) = %s, want %s", err, got, want)
		}
	}
}

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.observe(shared.ModuleSales, nil, time.Millisecond)
	m.observe(shared.ModuleSales, shared.ErrAlreadyPosted, time.Millisecond)
	m.observe("", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(m.attempts.WithLabelValues("SALES", "posted")); got != 1 {
		t.Fatalf("expected one posted attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.attempts.WithLabelValues("unknown", "error")); got != 1 {
		t.Fatalf("expected one unknown error, got %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.observe(shared.ModuleSales, nil, time.Second)
}
