package control

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestShardMetricsAreLabelled(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	s0 := m.ForShard(0)
	s1 := m.ForShard(1)
	s0.HandshakesOK.Inc()
	s0.Frame("text")
	s0.Frame("text")
	s1.Stale("recv")
	s1.Connections.Inc()

	require.Equal(t, 1.0, testutil.ToFloat64(m.handshakes.WithLabelValues("0", "ok")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.handshakes.WithLabelValues("1", "ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues("0", "text")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.stale.WithLabelValues("1", "recv")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.active.WithLabelValues("1")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Positive(t, n)
}

func TestUnregisteredMetrics(t *testing.T) {
	m := NewMetrics(nil)
	m.ForShard(7).ProtocolError("invalid_path")
	require.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors.WithLabelValues("7", "invalid_path")))
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("shard.0.conns", func() any { return 3 })

	state := dp.DumpState()
	require.Contains(t, state, "platform.cpus")
	require.Equal(t, 3, state["shard.0.conns"])

	rec := httptest.NewRecorder()
	dp.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/state", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), `"shard.0.conns":3`)

	dp.UnregisterProbe("shard.0.conns")
	require.NotContains(t, dp.DumpState(), "shard.0.conns")
}
