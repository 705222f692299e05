package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaychain/noded/version"
)

var verbose bool

// VersionCmd prints the binary's semantic version.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			b, err := json.MarshalIndent(map[string]string{
				"noded":           version.Version,
				"gossip_protocol": fmt.Sprintf("%d", version.GossipProtocol.Uint64()),
				"block_protocol":  fmt.Sprintf("%d", version.BlockProtocol.Uint64()),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}
		fmt.Println(version.Version)
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolVar(&verbose, "verbose", false, "also show protocol versions")
}
