package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().ValidateBasic())
}

func TestValidateBasicRejectsUnknownLogFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogFormat = "xml"
	require.Error(t, cfg.ValidateBasic())
}

func TestValidateBasicRejectsUnknownSyncHandling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncHandling = "eager"
	require.Error(t, cfg.ValidateBasic())
}

func TestValidateBasicRejectsInvertedBlocklistBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.P2P.BlocklistRetainMaxDuration = cfg.P2P.BlocklistRetainMinDuration / 2
	require.Error(t, cfg.ValidateBasic())
}

func TestValidateBasicRejectsOutOfRangeTarpitChance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.P2P.TarpitChance = 1.5
	require.Error(t, cfg.ValidateBasic())
}

func TestChainspecFilePathIsRootedUnderHomeDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetRoot("/home/node")
	require.Equal(t, "/home/node/chainspec.toml", cfg.ChainspecFilePath())
}
