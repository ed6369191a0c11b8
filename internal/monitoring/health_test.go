package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func staticCheck(name string, status ProbeStatus) Check {
	return NewCheck(name, func(context.Context) ProbeResult {
		return ProbeResult{Status: status}
	})
}

func TestEvaluateAggregatesWorstStatus(t *testing.T) {
	manager := NewHealthManager()
	manager.Register(staticCheck("database", StatusUp))
	manager.Register(staticCheck("redis", StatusUp))

	report := manager.Evaluate(context.Background())
	require.True(t, report.Success)
	require.Equal(t, StatusUp, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)

	manager.Register(staticCheck("outbox", StatusDegraded))
	report = manager.Evaluate(context.Background())
	require.False(t, report.Success)
	require.Equal(t, StatusDegraded, report.Status)

	manager.Register(staticCheck("broken", StatusDown))
	report = manager.Evaluate(context.Background())
	require.False(t, report.Success)
	require.Equal(t, StatusDown, report.Status)
}

func TestEvaluateWithoutChecksReportsUp(t *testing.T) {
	report := NewHealthManager().Evaluate(context.Background())
	require.True(t, report.Success)
	require.Equal(t, StatusUp, report.Status)
	require.Empty(t, report.Checks)
}

func TestRunCheckRecoversFromPanic(t *testing.T) {
	manager := NewHealthManager()
	manager.Register(NewCheck("panicky", func(context.Context) ProbeResult {
		panic("probe exploded")
	}))

	report := manager.Evaluate(context.Background())
	require.False(t, report.Success)
	require.Equal(t, StatusDown, report.Status)
	require.Equal(t, "probe exploded", report.Checks[0].Details)
}

func TestRunCheckDefaultsMissingStatusToDown(t *testing.T) {
	manager := NewHealthManager()
	manager.Register(NewCheck("empty", func(context.Context) ProbeResult {
		return ProbeResult{}
	}))
	manager.Register(NewCheck("unimplemented", nil))

	report := manager.Evaluate(nil)
	require.Equal(t, StatusDown, report.Status)
	for _, check := range report.Checks {
		require.Equal(t, StatusDown, check.Status)
	}
}

func TestResultFromError(t *testing.T) {
	up := ResultFromError("database", nil, time.Millisecond)
	require.Equal(t, StatusUp, up.Status)

	down := ResultFromError("database", errors.New("connection refused"), time.Millisecond)
	require.Equal(t, StatusDown, down.Status)
	require.Contains(t, down.Details, "connection refused")

	degraded := ResultFromError("database", context.DeadlineExceeded, time.Millisecond)
	require.Equal(t, StatusDegraded, degraded.Status)
}
