package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	fail     bool
	fallback bool
	opened   bool
	closed   bool
}

func TestBreakerSequences(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		steps    []outcome
		wantOpen bool
	}{
		{
			name: "opens on the threshold failure",
			opts: []Option{WithFailureThreshold(3)},
			steps: []outcome{
				{fail: true},
				{fail: true},
				{fail: true, fallback: true, opened: true},
			},
			wantOpen: true,
		},
		{
			name: "a success in between restarts the failure count",
			opts: []Option{WithFailureThreshold(2)},
			steps: []outcome{
				{fail: true},
				{fallback: false},
				{fail: true},
			},
		},
		{
			name: "further failures while open report no transition",
			opts: []Option{WithFailureThreshold(1)},
			steps: []outcome{
				{fail: true, fallback: true, opened: true},
				{fail: true, fallback: true},
			},
			wantOpen: true,
		},
		{
			name: "closes after consecutive successes",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []outcome{
				{fail: true, fallback: true, opened: true},
				{fallback: true},
				{closed: true},
			},
		},
		{
			name: "a failure while half-recovered restarts the success count",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []outcome{
				{fail: true, fallback: true, opened: true},
				{fallback: true},
				{fail: true, fallback: true},
				{fallback: true},
			},
			wantOpen: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("dispatch", tt.opts...)
			for i, step := range tt.steps {
				if step.fail {
					fallback, change := b.RecordFailure()
					require.Equal(t, step.fallback, fallback, "step %d fallback", i)
					require.Equal(t, step.opened, change.Opened, "step %d opened", i)
					continue
				}
				primary, change := b.RecordSuccess()
				require.Equal(t, !step.fallback, primary, "step %d primary", i)
				require.Equal(t, step.closed, change.Closed, "step %d closed", i)
			}
			assert.Equal(t, tt.wantOpen, b.IsOpen())
		})
	}
}

func TestBreakerDefaultsAndReset(t *testing.T) {
	b := New("dispatch", WithFailureThreshold(0))
	assert.Equal(t, "dispatch", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())

	for range 4 {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen(), "a non-positive threshold keeps the default of five")
	b.RecordFailure()
	require.True(t, b.IsOpen())
	assert.Equal(t, "open", b.State().String())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	fallback, _ := b.RecordFailure()
	assert.False(t, fallback, "reset clears the failure count")
}
