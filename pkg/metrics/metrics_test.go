package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegister_NoDuplicateCollectorErrors(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.RequestsTotal.WithLabelValues("PutObject").Inc()
	m.ErrorsTotal.WithLabelValues("NoSuchBucket").Inc()
	m.BytesReceived.Add(42)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
