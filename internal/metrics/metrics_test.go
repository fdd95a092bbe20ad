package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adlibrary-crawler/internal/governor"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, governorMode)
	require.NotNil(t, identities)
}

func TestObserverTracksGovernorAndPool(t *testing.T) {
	obs := NewObserver()

	obs.ObserveBackoff(governor.ModeBackoff, 15*time.Second)
	require.Equal(t, 1.0, testutil.ToFloat64(governorMode))
	obs.ObserveBackoff(governor.ModeNormal, 0)
	require.Equal(t, 0.0, testutil.ToFloat64(governorMode))

	obs.ObserveIdentities(3, 2)
	require.Equal(t, 3.0, testutil.ToFloat64(identities.WithLabelValues("active")))
	require.Equal(t, 2.0, testutil.ToFloat64(identities.WithLabelValues("retired")))
}

func TestGaugeHelpers(t *testing.T) {
	Init()

	ObserveFrontier(7, 2, 1500*time.Millisecond)
	require.Equal(t, 7.0, testutil.ToFloat64(frontierPending))
	require.Equal(t, 2.0, testutil.ToFloat64(frontierInFlight))
	require.InDelta(t, 1.5, testutil.ToFloat64(frontierWaitSeconds), 1e-9)

	SetConcurrencyLimit(4)
	require.Equal(t, 4.0, testutil.ToFloat64(concurrencyLimit))

	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	require.Equal(t, before+1, testutil.ToFloat64(activeWorkers))
	DecActiveWorkers()
	require.Equal(t, before, testutil.ToFloat64(activeWorkers))
}
