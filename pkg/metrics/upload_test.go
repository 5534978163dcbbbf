package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilUploadMetricsIsNoOp(t *testing.T) {
	var m *UploadMetrics
	m.RecordSessionStarted()
	m.RecordChunk(10)
	m.RecordFinalize("success")
	m.RecordReaped(2)
	m.SetActiveSessions(5)
}

func TestUploadMetricsRecord(t *testing.T) {
	InitRegistry()
	m := NewUploadMetrics()
	require.NotNil(t, m)

	m.RecordSessionStarted()
	m.RecordChunk(10)
	m.RecordChunk(32)
	m.RecordFinalize("success")
	m.RecordReaped(2)
	m.SetActiveSessions(5)
	m.SetActiveSessions(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsStarted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunksReceived))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.chunkBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsReaped))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeSessions),
		"gauge must track the latest value, not accumulate")
}
