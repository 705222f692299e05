package config

import (
	"encoding/hex"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/relaychain/noded/types"
)

// Chainspec describes the static, chain-wide parameters a node needs before
// it can even attempt CatchUp: the genesis validator set, the protocol
// version, and any scheduled protocol upgrades. It is a separate
// document from config.toml because, unlike the reactor's tunables, every
// node on a given chain must agree on it byte-for-byte.
type Chainspec struct {
	ChainName        string                  `toml:"chain_name"`
	ProtocolVersion  types.ProtocolVersion   `toml:"protocol_version"`
	GenesisValidators []chainspecValidator   `toml:"genesis_validators"`
	Upgrades         []chainspecUpgrade      `toml:"upgrades"`
}

type chainspecValidator struct {
	PublicKeyHex string `toml:"public_key"`
	Weight       uint64 `toml:"weight"`
}

type chainspecUpgrade struct {
	EraID             uint64 `toml:"activation_era_id"`
	NewProtocolMajor  uint32 `toml:"new_protocol_major"`
	NewProtocolMinor  uint32 `toml:"new_protocol_minor"`
	NewProtocolPatch  uint32 `toml:"new_protocol_patch"`
}

// LoadChainspec decodes the chainspec TOML file at path.
func LoadChainspec(path string) (*Chainspec, error) {
	var spec Chainspec
	if _, err := toml.DecodeFile(path, &spec); err != nil {
		return nil, fmt.Errorf("decoding chainspec %s: %w", path, err)
	}
	if len(spec.GenesisValidators) == 0 {
		return nil, fmt.Errorf("chainspec %s declares no genesis validators", path)
	}
	return &spec, nil
}

// GenesisValidatorSet converts the chainspec's validator table into a
// types.ValidatorSet for era 0.
func (c *Chainspec) GenesisValidatorSet() (types.ValidatorSet, error) {
	vs := types.ValidatorSet{EraID: 0}
	for _, v := range c.GenesisValidators {
		pk, err := hex.DecodeString(v.PublicKeyHex)
		if err != nil {
			return types.ValidatorSet{}, fmt.Errorf("decoding genesis validator public key %q: %w", v.PublicKeyHex, err)
		}
		vs.Validators = append(vs.Validators, types.ValidatorWeight{PublicKey: pk, Weight: v.Weight})
		vs.TotalWeight += v.Weight
	}
	return vs, nil
}

// ActivationPoints returns every scheduled upgrade's activation point, in
// declaration order.
func (c *Chainspec) ActivationPoints() []types.ActivationPoint {
	points := make([]types.ActivationPoint, 0, len(c.Upgrades))
	for _, u := range c.Upgrades {
		points = append(points, types.ActivationPoint{EraID: u.EraID})
	}
	return points
}
