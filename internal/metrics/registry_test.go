package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RecordBidProcessing(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.RecordBidProcessing("auction-1", "accepted", 2*time.Millisecond, "")
	r.RecordBidProcessing("auction-1", "rejected", time.Millisecond, "too_low")

	require.Equal(t, float64(1), counterValue(t, r.BidsAccepted.WithLabelValues("auction-1")))
	require.Equal(t, float64(1), counterValue(t, r.BidsRejected.WithLabelValues("too_low")))
}

func TestRegistry_RecordLockWait(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.RecordLockWait(true, 5*time.Millisecond)
	r.RecordLockWait(false, time.Millisecond)

	require.Equal(t, float64(1), counterValue(t, r.LockContention))
}

func TestRegistry_RecordAdmissionDenied(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.RecordAdmissionDenied("identity_limit")
	r.RecordAdmissionDenied("identity_limit")

	require.Equal(t, float64(2), counterValue(t, r.AdmissionDenied.WithLabelValues("identity_limit")))
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 500: "5xx", 0: "unknown"}
	for code, want := range cases {
		require.Equal(t, want, StatusClass(code))
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
