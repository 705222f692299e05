package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// SyncHandlingTTL backfills historical blocks within a bounded TTL window.
	SyncHandlingTTL = "ttl"
	// SyncHandlingGenesis backfills all the way to genesis.
	SyncHandlingGenesis = "genesis"
	// SyncHandlingNoSync never attempts historical backfill.
	SyncHandlingNoSync = "no_sync"
	// SyncHandlingIsolated keeps the reactor in an Initialize-like steady
	// state indefinitely, with no peers.
	SyncHandlingIsolated = "isolated"
)

// NOTE: the structs & default configuration options here are used to
// manually generate the config.toml. Reflect any changes made here in the
// defaultConfigTemplate constant in config/toml.go
var (
	DefaultNodedDir  = ".noded"
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"
	defaultChainspecName  = "chainspec.toml"
	defaultNodeKeyName    = "node_key.json"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultChainspecPath  = filepath.Join(defaultConfigDir, defaultChainspecName)
	defaultNodeKeyPath    = filepath.Join(defaultConfigDir, defaultNodeKeyName)
)

// Config defines the top level configuration for a node.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	Sync     *SyncConfig     `mapstructure:"sync"`
	P2P      *P2PConfig      `mapstructure:"p2p"`
	Finality *FinalityConfig `mapstructure:"finality"`
	Metrics  *MetricsConfig  `mapstructure:"metrics"`
}

// DefaultConfig returns a default configuration for a node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig: DefaultBaseConfig(),
		Sync:       DefaultSyncConfig(),
		P2P:        DefaultP2PConfig(),
		Finality:   DefaultFinalityConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing, with
// every interval shortened.
func TestConfig() *Config {
	return &Config{
		BaseConfig: TestBaseConfig(),
		Sync:       TestSyncConfig(),
		P2P:        DefaultP2PConfig(),
		Finality:   DefaultFinalityConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// SetRoot sets the RootDir for the config.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [sync] section: %w", err)
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [p2p] section: %w", err)
	}
	if err := cfg.Finality.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [finality] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the top-level reactor configuration: the tunables
// governing the state machine of spec §4.1 that do not belong to any one
// collaborator.
type BaseConfig struct {
	// The root directory for all config and data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Output level for logging: debug, info, error, or none
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`

	// Path to the TOML file describing the chain's genesis validators,
	// protocol parameters, and upgrade activation points
	ChainspecFile string `mapstructure:"chainspec_file"`

	// Path to the JSON file containing this node's network identity key
	NodeKeyFile string `mapstructure:"node_key_file"`

	// The minimum number of connected peers the reactor requires before
	// leaving Initialize for CatchUp
	MinPeersForInitialization int `mapstructure:"min_peers_for_initialization"`

	// The period between control ticks
	ControlLogicDefaultDelay time.Duration `mapstructure:"control_logic_default_delay"`

	// How long the synchronizer may go without progress before a control
	// tick counts it as stalled; builders are reset once more than
	// max_attempts consecutive ticks have counted a stall
	IdleTolerance time.Duration `mapstructure:"idle_tolerance"`

	// The number of consecutive stalled control ticks tolerated before
	// builders are reset
	MaxAttempts int `mapstructure:"max_attempts"`

	// How long the reactor waits in Upgrading for the contract runtime to
	// commit an activation before treating it as fatal
	UpgradeTimeout time.Duration `mapstructure:"upgrade_timeout"`

	// How long KeepUp waits after an upgrade's activation point is
	// crossed before forcing ShutdownForUpgrade, regardless of
	// prevent_validator_shutdown
	ShutdownForUpgradeTimeout time.Duration `mapstructure:"shutdown_for_upgrade_timeout"`

	// Historical backfill policy: ttl, genesis, no_sync, or isolated.
	// no_sync and isolated nodes may never enter Validate.
	SyncHandling string `mapstructure:"sync_handling"`

	// Manual-sync durability policy for the storage collaborator. No
	// component in this repository reads it; the reactor's transitions do
	// not depend on it
	EnableManualSync bool `mapstructure:"enable_manual_sync"`

	// Clears last_progress bookkeeping on every CatchUp control tick,
	// forcing the synchronizer to keep retrying rather than settle
	ForceResync bool `mapstructure:"force_resync"`

	// Suppresses the controlled-shutdown heuristic and non-storage fatal
	// causes while the reactor is in Validate as a current-era validator
	PreventValidatorShutdown bool `mapstructure:"prevent_validator_shutdown"`
}

// DefaultBaseConfig returns a default base configuration for a node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:                    defaultMoniker,
		LogLevel:                   "info",
		LogFormat:                  LogFormatPlain,
		ChainspecFile:              defaultChainspecName,
		NodeKeyFile:                defaultNodeKeyName,
		MinPeersForInitialization:  3,
		ControlLogicDefaultDelay:   time.Second,
		IdleTolerance:              30 * time.Second,
		MaxAttempts:                5,
		UpgradeTimeout:             5 * time.Minute,
		ShutdownForUpgradeTimeout:  10 * time.Minute,
		SyncHandling:               SyncHandlingTTL,
		EnableManualSync:           false,
		ForceResync:                false,
		PreventValidatorShutdown:   false,
	}
}

// TestBaseConfig returns a base configuration for testing a node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.ControlLogicDefaultDelay = 10 * time.Millisecond
	cfg.IdleTolerance = 200 * time.Millisecond
	return cfg
}

// ChainspecFilePath returns the full path to the chainspec file
func (cfg BaseConfig) ChainspecFilePath() string {
	return rootify(cfg.ChainspecFile, cfg.RootDir)
}

// NodeKeyFilePath returns the full path to the node_key.json file
func (cfg BaseConfig) NodeKeyFilePath() string {
	return rootify(cfg.NodeKeyFile, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	switch cfg.SyncHandling {
	case SyncHandlingTTL, SyncHandlingGenesis, SyncHandlingNoSync, SyncHandlingIsolated:
	default:
		return fmt.Errorf("unknown sync_handling %q (must be ttl, genesis, no_sync, or isolated)", cfg.SyncHandling)
	}
	if cfg.MinPeersForInitialization < 0 {
		return errors.New("min_peers_for_initialization can't be negative")
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("max_attempts must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// SyncConfig

// SyncConfig defines the configuration for the block synchronizer of
// spec §4.3.
type SyncConfig struct {
	RootDir string `mapstructure:"home"`

	// How often each builder is polled for its next fetch need
	NeedNextInterval time.Duration `mapstructure:"need_next_interval"`

	// How often a builder's peer snapshot is refreshed from the peer book
	PeerRefreshInterval time.Duration `mapstructure:"peer_refresh_interval"`

	// How often peers flagged dishonest are disconnected and blocklisted
	DisconnectDishonestPeersInterval time.Duration `mapstructure:"disconnect_dishonest_peers_interval"`

	// How long an outstanding fetch latch is held before being forcibly
	// released
	LatchResetInterval time.Duration `mapstructure:"latch_reset_interval"`

	// How long a single fetch request to a peer may take before it is
	// considered failed
	GetFromPeerTimeout time.Duration `mapstructure:"get_from_peer_timeout"`

	// The maximum number of global-state trie-node fetches a historical
	// builder may have outstanding at once
	MaxParallelTrieFetches int `mapstructure:"max_parallel_trie_fetches"`

	// Budget for unanswered fetch requests. It is validated as positive
	// but not enforced: the synchronizer is not given this value and does
	// not cap its outstanding fetches by it
	MaxInFlightDemands int `mapstructure:"max_in_flight_demands"`
}

// DefaultSyncConfig returns a default configuration for the block
// synchronizer
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		NeedNextInterval:                 500 * time.Millisecond,
		PeerRefreshInterval:              5 * time.Second,
		DisconnectDishonestPeersInterval: 5 * time.Second,
		LatchResetInterval:               10 * time.Second,
		GetFromPeerTimeout:               5 * time.Second,
		MaxParallelTrieFetches:           8,
		MaxInFlightDemands:               32,
	}
}

// TestSyncConfig returns a configuration for testing the block
// synchronizer, with intervals shortened
func TestSyncConfig() *SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.NeedNextInterval = 10 * time.Millisecond
	cfg.PeerRefreshInterval = 50 * time.Millisecond
	cfg.DisconnectDishonestPeersInterval = 50 * time.Millisecond
	cfg.LatchResetInterval = 200 * time.Millisecond
	cfg.GetFromPeerTimeout = 100 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *SyncConfig) ValidateBasic() error {
	if cfg.MaxParallelTrieFetches <= 0 {
		return errors.New("max_parallel_trie_fetches must be positive")
	}
	if cfg.MaxInFlightDemands <= 0 {
		return errors.New("max_in_flight_demands must be positive")
	}
	if cfg.GetFromPeerTimeout <= 0 {
		return errors.New("get_from_peer_timeout must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// P2PConfig

// P2PConfig defines the configuration options for the peer book of
// spec §4.5.
type P2PConfig struct {
	RootDir string `mapstructure:"home"`

	// Bound the randomized blocklist retention window
	BlocklistRetainMinDuration time.Duration `mapstructure:"blocklist_retain_min_duration"`
	BlocklistRetainMaxDuration time.Duration `mapstructure:"blocklist_retain_max_duration"`

	// The protocol version at or below which connecting peers are
	// subject to tarpitting
	TarpitVersionThreshold uint32 `mapstructure:"tarpit_version_threshold"`

	// The probability, in [0,1], that an eligible peer is tarpitted
	// rather than rejected outright
	TarpitChance float64 `mapstructure:"tarpit_chance"`

	// How long a tarpitted connection is held open before being closed
	TarpitDuration time.Duration `mapstructure:"tarpit_duration"`

	// Throttle non-validator peers only; validators are never throttled
	MaxOutgoingByteRateNonValidators    int `mapstructure:"max_outgoing_byte_rate_non_validators"`
	MaxIncomingMessageRateNonValidators int `mapstructure:"max_incoming_message_rate_non_validators"`
}

// DefaultP2PConfig returns a default configuration for the peer book
func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		BlocklistRetainMinDuration:          10 * time.Minute,
		BlocklistRetainMaxDuration:          90 * time.Minute,
		TarpitVersionThreshold:              0,
		TarpitChance:                        0.2,
		TarpitDuration:                      5 * time.Second,
		MaxOutgoingByteRateNonValidators:    2 << 20,
		MaxIncomingMessageRateNonValidators: 100,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *P2PConfig) ValidateBasic() error {
	if cfg.BlocklistRetainMinDuration <= 0 {
		return errors.New("blocklist_retain_min_duration must be positive")
	}
	if cfg.BlocklistRetainMaxDuration < cfg.BlocklistRetainMinDuration {
		return errors.New("blocklist_retain_max_duration can't be less than blocklist_retain_min_duration")
	}
	if cfg.TarpitChance < 0 || cfg.TarpitChance > 1 {
		return errors.New("tarpit_chance must be within [0,1]")
	}
	if cfg.MaxOutgoingByteRateNonValidators < 0 {
		return errors.New("max_outgoing_byte_rate_non_validators can't be negative")
	}
	if cfg.MaxIncomingMessageRateNonValidators < 0 {
		return errors.New("max_incoming_message_rate_non_validators can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// FinalityConfig

// FinalityConfig defines the configuration for the block accumulator of
// spec §4.2.
type FinalityConfig struct {
	// Purge period handed to the accumulator. Nothing in this repository
	// calls the accumulator's Purge on a schedule, so acceptors are swept
	// only when a caller invokes Purge directly
	PurgeInterval time.Duration `mapstructure:"purge_interval"`

	// How long an acceptor may go without any activity before it is
	// purged
	DeadAirInterval time.Duration `mapstructure:"dead_air_interval"`

	// How far ahead of the local tip a promoted block may be and still be
	// advised for forward registration, rather than informational-only
	AttemptExecutionThreshold uint64 `mapstructure:"attempt_execution_threshold"`
}

// DefaultFinalityConfig returns a default configuration for the block
// accumulator
func DefaultFinalityConfig() *FinalityConfig {
	return &FinalityConfig{
		PurgeInterval:             10 * time.Second,
		DeadAirInterval:           2 * time.Minute,
		AttemptExecutionThreshold: 20,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *FinalityConfig) ValidateBasic() error {
	if cfg.PurgeInterval <= 0 {
		return errors.New("purge_interval must be positive")
	}
	if cfg.DeadAirInterval <= 0 {
		return errors.New("dead_air_interval must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// MetricsConfig

// MetricsConfig defines the configuration for Prometheus metrics
// reporting, mirroring the teacher's InstrumentationConfig.
type MetricsConfig struct {
	// When true, the reactor's metrics are registered with the default
	// Prometheus registry; when false they are discarded. No HTTP endpoint
	// is started for them by this repository.
	Enabled bool `mapstructure:"enabled"`

	// Address for a Prometheus collection endpoint. No component in this
	// repository reads it.
	ListenAddr string `mapstructure:"listen_addr"`

	// Metrics namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultMetricsConfig returns a default configuration for metrics
// reporting.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:    true,
		ListenAddr: ":26660",
		Namespace:  "noded",
	}
}

//-----------------------------------------------------------------------------
// Utils

// rootify makes config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If
// runtime fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
