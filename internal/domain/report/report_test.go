package report

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_Lifecycle(t *testing.T) {
	t.Parallel()

	r := NewReport("t1")
	assert.Equal(t, StatusPending, r.Status())
	assert.Nil(t, r.Results())

	require.NoError(t, r.Transition(StatusInProgress, nil))

	res := NewResults()
	res.Add("gen1", json.RawMessage(`{"a":1}`))
	require.NoError(t, r.Transition(StatusSuccess, res))
	assert.Equal(t, StatusSuccess, r.Status())
	assert.Same(t, res, r.Results())

	err := r.Transition(StatusError, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusSuccess, r.Status(), "terminal report must not change")
}

func TestReport_TransitionRejectsMismatchedResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  Status
		results *Results
	}{
		{name: "success without results", status: StatusSuccess, results: nil},
		{name: "error with results", status: StatusError, results: NewResults()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := ReconstructReport("t", StatusInProgress, nil, time.Time{}, time.Time{})
			err := r.Transition(tt.status, tt.results)
			require.ErrorIs(t, err, ErrInvalidResults)
			assert.Equal(t, StatusInProgress, r.Status())
		})
	}
}

func TestResults_MarshalShape(t *testing.T) {
	t.Parallel()

	res := NewResults()
	res.Add("gen1", json.RawMessage(`{"a":1}`))
	res.Add("gen2", json.RawMessage(`{"b":2}`))

	data, err := res.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":{"gen1":{"a":1},"gen2":{"b":2}}}`, string(data))

	decoded, err := UnmarshalResults(data)
	require.NoError(t, err)
	assert.Len(t, decoded.Reports, 2)

	empty, err := UnmarshalResults(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestErrors_Unwrap(t *testing.T) {
	t.Parallel()

	cause := &GeneratorFailure{Generator: "gen2", TaskID: "t2", Err: errors.New("boom")}
	writeErr := &PersistenceError{Op: "ERROR", TaskID: "t2", Err: errors.New("conn reset")}
	rec := &RecoveryError{TaskID: "t2", Cause: cause, Err: writeErr}

	var gf *GeneratorFailure
	require.ErrorAs(t, rec, &gf)
	assert.Equal(t, "gen2", gf.Generator)

	var pe *PersistenceError
	require.ErrorAs(t, rec, &pe)
	assert.Equal(t, "ERROR", pe.Op)
	assert.Contains(t, rec.Error(), "boom")
}
