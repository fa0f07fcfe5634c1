package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNodeType_IsValid(t *testing.T) {
	for _, nt := range []NodeType{
		NodeTypeTrigger, NodeTypeTool, NodeTypeAgent,
		NodeTypeCondition, NodeTypeAdapter, NodeTypeAggregator,
	} {
		assert.True(t, nt.IsValid(), "type %s", nt)
	}
	assert.False(t, NodeType("teleport").IsValid())
	assert.False(t, NodeType("").IsValid())
}

func TestNodeStatus_IsTerminal(t *testing.T) {
	terminal := []NodeStatus{NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped, NodeStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "status %s", s)
	}
	for _, s := range []NodeStatus{NodeStatusPending, NodeStatusRunning, NodeStatusRetrying} {
		assert.False(t, s.IsTerminal(), "status %s", s)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{
			name:    "constant",
			policy:  RetryPolicy{BackoffStrategy: BackoffConstant, InitialDelay: time.Second},
			attempt: 5,
			want:    time.Second,
		},
		{
			name:    "linear first attempt",
			policy:  RetryPolicy{BackoffStrategy: BackoffLinear, InitialDelay: time.Second},
			attempt: 0,
			want:    time.Second,
		},
		{
			name:    "linear third attempt",
			policy:  RetryPolicy{BackoffStrategy: BackoffLinear, InitialDelay: time.Second},
			attempt: 2,
			want:    3 * time.Second,
		},
		{
			name:    "exponential first attempt",
			policy:  RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: time.Second, Multiplier: 2},
			attempt: 0,
			want:    time.Second,
		},
		{
			name:    "exponential doubles",
			policy:  RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: time.Second, Multiplier: 2},
			attempt: 3,
			want:    8 * time.Second,
		},
		{
			name:    "exponential default multiplier",
			policy:  RetryPolicy{BackoffStrategy: BackoffExponential, InitialDelay: time.Second},
			attempt: 2,
			want:    4 * time.Second,
		},
		{
			name: "max delay caps growth",
			policy: RetryPolicy{
				BackoffStrategy: BackoffExponential,
				InitialDelay:    time.Second,
				Multiplier:      2,
				MaxDelay:        5 * time.Second,
			},
			attempt: 10,
			want:    5 * time.Second,
		},
		{
			name:    "unknown strategy falls back to initial delay",
			policy:  RetryPolicy{BackoffStrategy: "fibonacci", InitialDelay: time.Second},
			attempt: 4,
			want:    time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Delay(tt.attempt))
		})
	}
}
