package blocksync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForwardSkipsExecutionAndGlobalState(t *testing.T) {
	tag := NeedHeader
	var seen []AcquisitionTag
	for tag != Complete {
		seen = append(seen, tag)
		tag = Next(tag, Forward)
	}
	require.NotContains(t, seen, NeedExecutionResults)
	require.NotContains(t, seen, NeedGlobalState)
}

func TestHistoricalVisitsEveryTag(t *testing.T) {
	tag := NeedHeader
	var seen []AcquisitionTag
	for tag != Complete {
		seen = append(seen, tag)
		tag = Next(tag, Historical)
	}
	require.Equal(t, []AcquisitionTag{
		NeedHeader, NeedApprovalsHashes, NeedBody,
		NeedExecutionResults, NeedGlobalState, NeedFinalitySignatures,
	}, seen)
}
