package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionIncludesGitCommit(t *testing.T) {
	want := NodedSemVer
	if GitCommit != "" {
		want += "-" + GitCommit
	}
	require.Equal(t, want, Version)
}

func TestProtocolUint64(t *testing.T) {
	require.Equal(t, uint64(1), GossipProtocol.Uint64())
	require.Equal(t, uint64(1), BlockProtocol.Uint64())
}
