// Package statebridge relays the identity tree's canonical root to one or
// more L2 bridge contracts, each on its own schedule.
package statebridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/eth2030/idtree-core/identitytree"
	"github.com/eth2030/idtree-core/log"
	"github.com/eth2030/idtree-core/metrics"
)

// ErrAlreadySpawned is returned by Spawn if it is called more than once on
// the same StateBridgeService.
var ErrAlreadySpawned = errors.New("statebridge: service already spawned")

// RootSource supplies the current canonical root. *identitytree.IdentityTree
// satisfies this directly.
type RootSource interface {
	CanonicalRoot() identitytree.RootDescriptor
}

// BlockSource reports the latest block number observed on the chain a
// bridge target relays to (used for the block_confirmations wait).
type BlockSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// RootRelayer sends a root to a single bridge target's on-chain contract.
type RootRelayer interface {
	RelayRoot(ctx context.Context, root identitytree.RootDescriptor) error
}

// TargetConfig describes one (identity manager, bridge contract, bridged
// World ID contract) relay target, mirroring the original Rust service's
// per-bridge configuration.
type TargetConfig struct {
	// Name identifies the target in logs and metrics.
	Name string
	// RelayingPeriod is how often to attempt a relay.
	RelayingPeriod time.Duration
	// BlockConfirmations is how many blocks must pass after a root is
	// observed before it is eligible to be relayed.
	BlockConfirmations uint64
}

// StateBridge relays canonical roots to a single target on its own period,
// waiting for BlockConfirmations before relaying a given root.
type StateBridge struct {
	cfg     TargetConfig
	source  RootSource
	blocks  BlockSource
	relayer RootRelayer
	logger  *log.Logger

	mu          sync.Mutex
	lastRelayed identitytree.RootDescriptor
	observedAt  uint64
}

// NewStateBridge creates a StateBridge for a single target.
func NewStateBridge(cfg TargetConfig, source RootSource, blocks BlockSource, relayer RootRelayer) *StateBridge {
	return &StateBridge{
		cfg:     cfg,
		source:  source,
		blocks:  blocks,
		relayer: relayer,
		logger:  log.Default().Module("statebridge").With("target", cfg.Name),
	}
}

// Run polls on cfg.RelayingPeriod until ctx is canceled, relaying the
// canonical root once it has accumulated cfg.BlockConfirmations
// confirmations since it was first observed.
func (b *StateBridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.RelayingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.tick(ctx); err != nil {
				metrics.BridgeRelayErrors.Inc()
				b.logger.Warn("relay tick failed", "err", err)
				continue
			}
		}
	}
}

func (b *StateBridge) tick(ctx context.Context) error {
	current := b.source.CanonicalRoot()

	b.mu.Lock()
	if current.SameHash(b.lastRelayed) {
		b.mu.Unlock()
		return nil
	}
	if b.observedAt == 0 {
		b.observedAt = current.BlockNumber
	}
	observedAt := b.observedAt
	b.mu.Unlock()

	head, err := b.blocks.LatestBlock(ctx)
	if err != nil {
		return err
	}

	confirmedAt := new(uint256.Int).AddUint64(uint256.NewInt(observedAt), b.cfg.BlockConfirmations)
	headInt := uint256.NewInt(head)
	if headInt.Lt(confirmedAt) {
		return nil
	}

	start := time.Now()
	if err := b.relayer.RelayRoot(ctx, current); err != nil {
		return err
	}
	metrics.BridgeRelayLatency.ObserveSince(start)

	b.mu.Lock()
	b.lastRelayed = current
	b.observedAt = 0
	b.mu.Unlock()

	metrics.BridgeRelaysSent.Inc()
	b.logger.Info("relayed root", "root", current.Hash.Hex(), "block", current.BlockNumber)
	return nil
}

// StateBridgeService owns a set of StateBridge instances and runs each in
// its own goroutine, mirroring the original Rust service's
// spawn_state_bridge_service: one bridge per configured target.
type StateBridgeService struct {
	mu       sync.Mutex
	bridges  []*StateBridge
	spawned  bool
	cancelFn context.CancelFunc
}

// NewStateBridgeService creates an empty service.
func NewStateBridgeService() *StateBridgeService {
	return &StateBridgeService{}
}

// AddStateBridge registers a bridge to be started by Spawn.
func (s *StateBridgeService) AddStateBridge(b *StateBridge) *StateBridgeService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridges = append(s.bridges, b)
	return s
}

// Spawn starts every registered bridge's Run loop in its own goroutine. It
// may only be called once.
func (s *StateBridgeService) Spawn(ctx context.Context) error {
	s.mu.Lock()
	if s.spawned {
		s.mu.Unlock()
		return ErrAlreadySpawned
	}
	s.spawned = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	bridges := append([]*StateBridge(nil), s.bridges...)
	s.mu.Unlock()

	for _, b := range bridges {
		go func(b *StateBridge) {
			if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error("bridge stopped", "err", err)
			}
		}(b)
	}
	return nil
}

// Stop cancels every running bridge's Run loop.
func (s *StateBridgeService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelFn != nil {
		s.cancelFn()
	}
}
