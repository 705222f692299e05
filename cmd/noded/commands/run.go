package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaychain/noded/config"
	"github.com/relaychain/noded/internal/accumulator"
	"github.com/relaychain/noded/internal/blocksync"
	"github.com/relaychain/noded/internal/bus"
	"github.com/relaychain/noded/internal/catchup"
	"github.com/relaychain/noded/internal/collab"
	"github.com/relaychain/noded/internal/collab/fake"
	"github.com/relaychain/noded/internal/peer"
	"github.com/relaychain/noded/internal/reactor"
	"github.com/relaychain/noded/log"
	"github.com/relaychain/noded/types"
	"github.com/relaychain/noded/version"
)

var (
	chainspecPath string
	trustedHash   string
)

// leapCacheTTL bounds how long a sync-leap result is reused across a
// CatchUp retry before a fresh request is issued.
const leapCacheTTL = 30 * time.Second

// Node bundles the constructed reactor together with the collaborators
// the run loop needs direct access to: the peer book and storage, to
// compute each ControlTick's Inputs, and the bus, to feed peer-up/down
// notices in until a real transport implementation takes over that job.
type Node struct {
	Reactor *reactor.Reactor
	Book    *peer.Book
	Storage collab.Storage
	Bus     *bus.Bus
}

// Provider builds a fully-wired Node from the parsed configuration. The
// default provider wires the in-memory fakes of internal/collab/fake,
// since no storage engine, execution engine, or transport is implemented
// in this repository — per spec §1's scope boundary, those are supplied by
// whatever embeds this reactor core. Embedding programs should register
// their own Provider in place of DefaultProvider.
type Provider func(cfg *config.Config, spec *config.Chainspec, logger log.Logger) (*Node, error)

// DefaultProvider wires the fake collaborators, useful for local
// experimentation and as the worked example embedders adapt.
func DefaultProvider(cfg *config.Config, spec *config.Chainspec, logger log.Logger) (*Node, error) {
	book := peer.NewBook(peer.Config{
		BlocklistRetainMinDuration:          cfg.P2P.BlocklistRetainMinDuration,
		BlocklistRetainMaxDuration:          cfg.P2P.BlocklistRetainMaxDuration,
		TarpitVersionThreshold:              version.Protocol(cfg.P2P.TarpitVersionThreshold),
		TarpitChance:                        cfg.P2P.TarpitChance,
		TarpitDuration:                      cfg.P2P.TarpitDuration,
		MaxOutgoingByteRateNonValidators:    float64(cfg.P2P.MaxOutgoingByteRateNonValidators),
		MaxIncomingMessageRateNonValidators: float64(cfg.P2P.MaxIncomingMessageRateNonValidators),
	})

	transport := fake.NewTransport()
	storage := fake.NewStorage()
	consensus := fake.NewConsensusEngine(nil, 3000, 8)
	controlBus := bus.New(logger)

	// acc and sync are mutually dependent — sync.New takes acc, and acc's
	// promotion callback needs to hand the promoted block to sync — so
	// acc is built with nil callbacks first and wired up once sync
	// exists.
	acc := accumulator.New(accumulator.Config{
		PurgeInterval:             cfg.Finality.PurgeInterval,
		DeadAirInterval:           cfg.Finality.DeadAirInterval,
		AttemptExecutionThreshold: cfg.Finality.AttemptExecutionThreshold,
	}, nil, nil)

	sync := blocksync.New(blocksync.Config{
		NeedNextInterval:                 cfg.Sync.NeedNextInterval,
		PeerRefreshInterval:              cfg.Sync.PeerRefreshInterval,
		DisconnectDishonestPeersInterval: cfg.Sync.DisconnectDishonestPeersInterval,
		LatchResetInterval:               cfg.Sync.LatchResetInterval,
		GetFromPeerTimeout:               cfg.Sync.GetFromPeerTimeout,
		MaxParallelTrieFetches:           cfg.Sync.MaxParallelTrieFetches,
		MaxAttempts:                      cfg.MaxAttempts,
	}, logger, book, transport, storage, acc)

	acc.SetOnPromote(func(blockHash types.Hash, height uint64, advice accumulator.PromotionAdvice) {
		if advice != accumulator.AdviseRegisterForward {
			return
		}
		sync.RegisterBlock(blockHash, height, blocksync.Forward, version.BlockProtocol)
	})
	acc.SetOnDishonest(book.FlagDishonest)

	rcfg := reactor.Config{
		MinPeersForInitialization: cfg.MinPeersForInitialization,
		ControlLogicDefaultDelay:  cfg.ControlLogicDefaultDelay,
		IdleTolerance:             cfg.IdleTolerance,
		MaxAttempts:               cfg.MaxAttempts,
		UpgradeTimeout:            cfg.UpgradeTimeout,
		ShutdownForUpgradeTimeout: cfg.ShutdownForUpgradeTimeout,
		PreventValidatorShutdown:  cfg.PreventValidatorShutdown,
		ForceResync:               cfg.ForceResync,
	}
	switch cfg.SyncHandling {
	case config.SyncHandlingGenesis:
		rcfg.SyncHandling = reactor.SyncHandlingGenesis
	case config.SyncHandlingNoSync:
		rcfg.SyncHandling = reactor.SyncHandlingNoSync
	case config.SyncHandlingIsolated:
		rcfg.SyncHandling = reactor.SyncHandlingIsolated
	default:
		rcfg.SyncHandling = reactor.SyncHandlingTTL
	}

	var metrics *reactor.Metrics
	if cfg.Metrics.Enabled {
		metrics = reactor.PrometheusMetrics(cfg.Metrics.Namespace)
	} else {
		metrics = reactor.NopMetrics()
	}

	r := reactor.New(rcfg, logger, sync, acc, consensus, storage, metrics)
	r.AttachDispatch(controlBus, book)

	if trustedHash != "" {
		decoded, err := hex.DecodeString(trustedHash)
		if err != nil {
			return nil, fmt.Errorf("decoding --trusted-hash: %w", err)
		}
		var hash types.Hash
		if len(decoded) != len(hash) {
			return nil, fmt.Errorf("--trusted-hash must be %d bytes hex-encoded, got %d", len(hash), len(decoded))
		}
		copy(hash[:], decoded)
		requester := catchup.NewRequester(transport, catchup.NewLeapCache(leapCacheTTL))
		r.AttachSyncLeap(requester, hash)
	}

	return &Node{Reactor: r, Book: book, Storage: storage, Bus: controlBus}, nil
}

// NewRunCmd returns the run command, parameterized over how the reactor's
// collaborators are constructed, mirroring the teacher's
// NewRunNodeCmd(nodeProvider nm.Provider).
func NewRunCmd(provider Provider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node reactor core",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
			if err != nil {
				return err
			}

			spec, err := config.LoadChainspec(chainspecPath)
			if err != nil {
				return fmt.Errorf("loading chainspec: %w", err)
			}

			node, err := provider(conf, spec, logger)
			if err != nil {
				return fmt.Errorf("constructing reactor: %w", err)
			}
			r := node.Reactor

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := r.Start(ctx); err != nil {
				return fmt.Errorf("starting reactor: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(conf.ControlLogicDefaultDelay)
			defer ticker.Stop()

			for {
				select {
				case <-sigCh:
					logger.Info("received shutdown signal")
					cancel()
					r.Wait()
					return nil
				case <-ticker.C:
					in := reactor.Inputs{PeerCount: len(node.Book.Query(peer.QueryOpts{}))}
					if rng, err := node.Storage.AvailableBlockRange(ctx); err == nil {
						in.LocalHigh = rng.High
					} else {
						logger.Error("failed to read available block range", "err", err)
					}

					if err := r.ControlTick(ctx, in); err != nil {
						logger.Error("fatal control-tick error, shutting down", "err", err)
						cancel()
						r.Wait()
						return err
					}
					if r.State().IsTerminal() {
						cancel()
						r.Wait()
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&chainspecPath, "chainspec", "", "path to the chainspec TOML file (required)")
	cmd.Flags().StringVar(&trustedHash, "trusted-hash", "", "trusted block hash to anchor CatchUp's sync-leap, hex encoded")
	_ = cmd.MarkFlagRequired("chainspec")
	return cmd
}
