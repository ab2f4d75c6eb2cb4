package allowlist

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsActivitySinkCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewMetricsActivitySink(reg)
	require.NoError(t, err)

	f := newServiceFixture(linkedMember())
	f.service = NewService(f.discord, f.twitter, f.store,
		WithActivitySink(sink),
		WithLogger(nopLogger{}),
	)

	_, err = f.service.SubmitWallet(context.Background(), submitMessage(testAddress))
	require.NoError(t, err)

	_, err = f.service.SubmitWallet(context.Background(), submitMessage(testAddress))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues(string(ActivityEventWalletSubmitted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues(string(ActivityEventRoleGranted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.rejections.WithLabelValues(TextCodeAlreadySubmitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.stages.WithLabelValues(string(StageLinked), string(StageVerified))))
}

func TestMetricsActivitySinkRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := NewMetricsActivitySink(reg)
	require.NoError(t, err)

	_, err = NewMetricsActivitySink(reg)
	require.Error(t, err)
}

func TestMetricsActivitySinkUnknownReason(t *testing.T) {
	sink, err := NewMetricsActivitySink(prometheus.NewRegistry())
	require.NoError(t, err)

	require.NoError(t, sink.Record(context.Background(), ActivityEvent{EventType: ActivityEventRejected}))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.rejections.WithLabelValues("unknown")))
}
