package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFloatTime(t *testing.T) {
	require.Equal(t, time.Unix(1492439949, 0), FloatTime(1492439949))
	require.Equal(t, 1492439949.0, UnixFloat(time.Unix(1492439949, 0)))

	ts := FloatTime(1492439949.5)
	require.Equal(t, int64(1492439949), ts.Unix())
	require.Equal(t, 500*time.Millisecond, time.Duration(ts.Nanosecond()))
	require.Equal(t, 1492439949.5, UnixFloat(ts))
}

func TestIdentitySource(t *testing.T) {
	id := &Identity{Host: "web01", Plugin: "cpu", PluginInstance: "0", Type: "percent", TypeInstance: "idle"}
	require.Equal(t, "web01/cpu/0/percent/idle", id.Source())

	id = &Identity{Host: "web01", Plugin: "load", Type: "shortterm"}
	require.Equal(t, "web01/load/shortterm", id.Source())
}

func TestMetricPointsLatest(t *testing.T) {
	base := time.Unix(1000, 0)
	require.True(t, MetricPoints{}.Latest().IsZero())
	require.Equal(t, base.Add(time.Second), MetricPoints{
		{ReceiptTime: base},
		{ReceiptTime: base.Add(time.Second)},
	}.Latest())
}
