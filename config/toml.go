package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/relaychain/noded/libs/rand"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	var err error
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

// EnsureRoot creates the root, config, and data directories if they don't
// exist, and panics if it fails.
func EnsureRoot(rootDir string) {
	if err := os.MkdirAll(rootDir, defaultDirPerm); err != nil {
		panic(err)
	}
	if err := os.MkdirAll(filepath.Join(rootDir, defaultConfigDir), defaultDirPerm); err != nil {
		panic(err)
	}
	if err := os.MkdirAll(filepath.Join(rootDir, defaultDataDir), defaultDirPerm); err != nil {
		panic(err)
	}
}

// WriteConfigFile renders config using the template and writes it to
// rootDir/config/config.toml.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by path, in
// the default toml template, without mangling the path or filename.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer
	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}
	return os.WriteFile(path, buffer.Bytes(), 0644)
}

func writeDefaultConfigFileIfNone(rootDir string) error {
	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if _, err := os.Stat(configFilePath); os.IsNotExist(err) {
		return WriteConfigFile(rootDir, DefaultConfig())
	}
	return nil
}

// GenerateNodeKeyFileIfNone writes a fresh random node key file at
// nodeKeyFile, resolved against rootDir when relative (the default
// NodeKeyFile puts it at rootDir/node_key.json), if one is not already
// present, so a freshly
// initialized node has a stable p2p identity across restarts.
func GenerateNodeKeyFileIfNone(rootDir, nodeKeyFile string) error {
	path := rootify(nodeKeyFile, rootDir)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	key := rand.Bytes(32)
	return os.WriteFile(path, []byte(`{"priv_key":"`+hexEncode(key)+`"}`), 0600)
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/mynode/data") or relative
# to the home directory (e.g. "data"). The home directory is
# "$HOME/.noded" by default, but can be changed via --home.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Output level for logging: debug, info, error, or none
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

# Path to the TOML file describing the chain's genesis validators,
# protocol parameters, and upgrade activation points
chainspec-file = "{{ .BaseConfig.ChainspecFile }}"

# Path to the JSON file containing this node's network identity key
node-key-file = "{{ .BaseConfig.NodeKeyFile }}"

# The minimum number of connected peers required before leaving Initialize
min-peers-for-initialization = {{ .BaseConfig.MinPeersForInitialization }}

# The period between control ticks
control-logic-default-delay = "{{ .BaseConfig.ControlLogicDefaultDelay }}"

# How long the synchronizer may go without progress before it is treated as
# stalled
idle-tolerance = "{{ .BaseConfig.IdleTolerance }}"

# The number of consecutive stalled control ticks tolerated before builders
# are reset
max-attempts = {{ .BaseConfig.MaxAttempts }}

# How long the reactor waits in Upgrading before treating a stuck upgrade as
# fatal
upgrade-timeout = "{{ .BaseConfig.UpgradeTimeout }}"

# How long KeepUp waits after an upgrade activation point is crossed before
# forcing a shutdown, regardless of prevent-validator-shutdown
shutdown-for-upgrade-timeout = "{{ .BaseConfig.ShutdownForUpgradeTimeout }}"

# Historical backfill policy: ttl | genesis | no_sync | isolated
sync-handling = "{{ .BaseConfig.SyncHandling }}"

# Manual-sync durability policy for the storage collaborator; not read by
# any component of this node core
enable-manual-sync = {{ .BaseConfig.EnableManualSync }}

# Forces the synchronizer to keep retrying rather than settle
force-resync = {{ .BaseConfig.ForceResync }}

# Suppresses the controlled-shutdown heuristic while validating in the
# current era
prevent-validator-shutdown = {{ .BaseConfig.PreventValidatorShutdown }}


#######################################################
###       Block Synchronizer Configuration          ###
#######################################################
[sync]

need-next-interval = "{{ .Sync.NeedNextInterval }}"
peer-refresh-interval = "{{ .Sync.PeerRefreshInterval }}"
disconnect-dishonest-peers-interval = "{{ .Sync.DisconnectDishonestPeersInterval }}"
latch-reset-interval = "{{ .Sync.LatchResetInterval }}"
get-from-peer-timeout = "{{ .Sync.GetFromPeerTimeout }}"
max-parallel-trie-fetches = {{ .Sync.MaxParallelTrieFetches }}
max-in-flight-demands = {{ .Sync.MaxInFlightDemands }}


#######################################################
###       Peer Book Configuration                   ###
#######################################################
[p2p]

blocklist-retain-min-duration = "{{ .P2P.BlocklistRetainMinDuration }}"
blocklist-retain-max-duration = "{{ .P2P.BlocklistRetainMaxDuration }}"
tarpit-version-threshold = {{ .P2P.TarpitVersionThreshold }}
tarpit-chance = {{ .P2P.TarpitChance }}
tarpit-duration = "{{ .P2P.TarpitDuration }}"
max-outgoing-byte-rate-non-validators = {{ .P2P.MaxOutgoingByteRateNonValidators }}
max-incoming-message-rate-non-validators = {{ .P2P.MaxIncomingMessageRateNonValidators }}


#######################################################
###       Block Accumulator Configuration           ###
#######################################################
[finality]

purge-interval = "{{ .Finality.PurgeInterval }}"
dead-air-interval = "{{ .Finality.DeadAirInterval }}"
attempt-execution-threshold = {{ .Finality.AttemptExecutionThreshold }}


#######################################################
###       Metrics Configuration                     ###
#######################################################
[metrics]

enabled = {{ .Metrics.Enabled }}
listen-addr = "{{ .Metrics.ListenAddr }}"
namespace = "{{ .Metrics.Namespace }}"
`
