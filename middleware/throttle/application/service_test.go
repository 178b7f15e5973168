package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"throttle-gateway/middleware/throttle/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeThrottle struct {
	open   bool
	err    error
	policy domain.Policy
	calls  int
}

func (f *fakeThrottle) Open(context.Context) (bool, error) {
	f.calls++
	return f.open, f.err
}
func (f *fakeThrottle) Name() domain.Name     { return "fake" }
func (f *fakeThrottle) Policy() domain.Policy { return f.policy }

type recordingStats struct {
	events []domain.StatsEvent
}

func (r *recordingStats) Record(_ context.Context, ev domain.StatsEvent) error {
	r.events = append(r.events, ev)
	return errors.New("ignored")
}

func TestService_Decide_AllowsWhenNoThrottle(t *testing.T) {
	svc := Service{}
	dec, err := svc.Decide(context.Background(), nil, domain.StatsEvent{})
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Zero(t, dec.RetryAfter)
}

func TestService_Decide_AllowsWhenThrottleOpens(t *testing.T) {
	th := &fakeThrottle{open: true, policy: domain.CountBased(1)}
	dec, err := Service{RetryAfter: 5 * time.Second}.Decide(context.Background(), th, domain.StatsEvent{})
	require.NoError(t, err)
	assert.Equal(t, domain.Decision{Allowed: true}, dec)
	assert.Equal(t, 1, th.calls)
}

func TestService_Decide_RetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		svc    Service
		policy domain.Policy
		want   time.Duration
	}{
		{name: "configured", svc: Service{RetryAfter: 2500 * time.Millisecond}, policy: domain.TimeBased(time.Minute), want: 2500 * time.Millisecond},
		{name: "time policy interval", policy: domain.TimeBased(3 * time.Second), want: 3 * time.Second},
		{name: "count policy default", policy: domain.CountBased(4), want: time.Second},
		{name: "zero interval default", policy: domain.TimeBased(0), want: time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := tt.svc.Decide(context.Background(), &fakeThrottle{policy: tt.policy}, domain.StatsEvent{})
			require.NoError(t, err)
			assert.False(t, dec.Allowed)
			assert.Equal(t, tt.want, dec.RetryAfter)
		})
	}
}

func TestService_Decide_ConnectivityErrorFailClosed(t *testing.T) {
	stats := &recordingStats{}
	th := &fakeThrottle{err: &domain.ConnectivityError{Name: "fake", Err: errors.New("refused")}}

	dec, err := Service{Stats: stats}.Decide(context.Background(), th, domain.StatsEvent{})
	require.ErrorIs(t, err, domain.ErrConnectivity)
	assert.False(t, dec.Allowed)
	assert.True(t, dec.Degraded)
	assert.Empty(t, stats.events, "unresolved decisions are not recorded")
}

func TestService_Decide_ConnectivityErrorFailOpen(t *testing.T) {
	th := &fakeThrottle{err: &domain.ConnectivityError{Name: "fake", Err: context.DeadlineExceeded}}

	dec, err := Service{FailOpen: true}.Decide(context.Background(), th, domain.StatsEvent{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, dec.Allowed)
	assert.True(t, dec.Degraded)
}

func TestService_Decide_OtherErrorsAreNotDegraded(t *testing.T) {
	boom := errors.New("boom")
	dec, err := Service{FailOpen: true}.Decide(context.Background(), &fakeThrottle{err: boom}, domain.StatsEvent{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, domain.Decision{}, dec)
}

func TestService_Decide_RecordsStats(t *testing.T) {
	stats := &recordingStats{}
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	svc := Service{Stats: stats, Now: func() time.Time { return at }}

	_, err := svc.Decide(context.Background(), &fakeThrottle{open: true, policy: domain.CountBased(0)},
		domain.StatsEvent{Method: "GET", Path: "/a"})
	require.NoError(t, err, "stats errors are best effort")

	require.Len(t, stats.events, 1)
	assert.Equal(t, domain.StatsEvent{
		Name:    "fake",
		Policy:  domain.PolicyCount,
		Allowed: true,
		Method:  "GET",
		Path:    "/a",
		At:      at,
	}, stats.events[0])
}
