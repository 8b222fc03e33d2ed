package research

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewJobValidation(t *testing.T) {
	_, err := NewJob("", "q", 3, "", "")
	require.Error(t, err)

	_, err = NewJob("m1", "", 3, "", "")
	require.Error(t, err)

	_, err = NewJob("m1", "q", 0, "", "")
	require.Error(t, err)

	job, err := NewJob("m1", "Will it rain?", 3, "focus", "a@b.c")
	require.NoError(t, err)
	require.Equal(t, StatusQueued, job.Status)
	require.Equal(t, 0, job.CurrentIteration)
	require.Empty(t, job.Iterations)
	require.NotZero(t, job.ID)
}

func TestIterationLookup(t *testing.T) {
	job, err := NewJob("m1", "q", 2, "", "")
	require.NoError(t, err)
	job.Iterations = IterationList{
		{Iteration: 1, Analysis: "first"},
		{Iteration: 2, Analysis: "second"},
	}

	rec, ok := job.Iteration(2)
	require.True(t, ok)
	require.Equal(t, "second", rec.Analysis)

	_, ok = job.Iteration(3)
	require.False(t, ok)
}

func TestIterationListRoundTrip(t *testing.T) {
	list := IterationList{{
		Iteration: 1,
		Queries:   []string{"q1", "q2"},
		Results:   []ContentItem{{URL: "https://x", Title: "t", Content: "c", Source: "brave"}},
		Analysis:  "partial",
	}}

	val, err := list.Value()
	require.NoError(t, err)

	var decoded IterationList
	require.NoError(t, decoded.Scan(val))
	require.Equal(t, list, decoded)
}

func TestStructuredInsightsNullability(t *testing.T) {
	var zero StructuredInsights
	val, err := zero.Value()
	require.NoError(t, err)
	require.Nil(t, val, "zero insights must persist as NULL")

	set := StructuredInsights{Probability: "37%", Rationale: "because"}
	val, err = set.Value()
	require.NoError(t, err)
	require.NotNil(t, val)

	var decoded StructuredInsights
	require.NoError(t, decoded.Scan(val))
	require.Equal(t, set, decoded)

	require.NoError(t, decoded.Scan(nil))
	require.True(t, decoded.IsZero())
}
