package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromCollector_Gather(t *testing.T) {
	sink := New()
	sink.Record("proxy-1", "provider-1", true, 42, 10, 20)

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewPromCollector(sink))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["amux_gateway_requests_total"])
	assert.True(t, names["amux_gateway_active_connections"])
}
