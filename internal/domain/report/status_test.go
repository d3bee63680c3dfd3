package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_ValidateTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		currentStatus Status
		targetStatus  Status
		wantErr       bool
	}{
		{
			name:          "pending to in progress",
			currentStatus: StatusPending,
			targetStatus:  StatusInProgress,
		},
		{
			name:          "pending to success invalid",
			currentStatus: StatusPending,
			targetStatus:  StatusSuccess,
			wantErr:       true,
		},
		{
			name:          "pending to error invalid",
			currentStatus: StatusPending,
			targetStatus:  StatusError,
			wantErr:       true,
		},
		{
			name:          "in progress to success",
			currentStatus: StatusInProgress,
			targetStatus:  StatusSuccess,
		},
		{
			name:          "in progress to error",
			currentStatus: StatusInProgress,
			targetStatus:  StatusError,
		},
		{
			name:          "in progress to in progress invalid",
			currentStatus: StatusInProgress,
			targetStatus:  StatusInProgress,
			wantErr:       true,
		},
		{
			name:          "in progress to pending invalid",
			currentStatus: StatusInProgress,
			targetStatus:  StatusPending,
			wantErr:       true,
		},
		{
			name:          "success is terminal",
			currentStatus: StatusSuccess,
			targetStatus:  StatusError,
			wantErr:       true,
		},
		{
			name:          "error is terminal",
			currentStatus: StatusError,
			targetStatus:  StatusInProgress,
			wantErr:       true,
		},
		{
			name:          "unspecified cannot transition",
			currentStatus: StatusUnspecified,
			targetStatus:  StatusInProgress,
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.currentStatus.ValidateTransition(tt.targetStatus)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusPending, StatusInProgress, StatusSuccess, StatusError} {
		assert.Equal(t, s, ParseStatus(s.String()))
	}
	assert.Equal(t, StatusUnspecified, ParseStatus("COMPLETED"))
}

func TestStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusInProgress.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
}
