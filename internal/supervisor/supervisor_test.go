package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanStatusSingleFlight(t *testing.T) {
	var s ScanStatus
	require.True(t, s.tryStart())
	require.False(t, s.tryStart())
	s.finish()
	require.True(t, s.tryStart())
}

func TestSupervisorStoppedFlag(t *testing.T) {
	sv := &Supervisor{}
	require.False(t, sv.Stopped())
	sv.stopped = true
	require.True(t, sv.Stopped())
}
