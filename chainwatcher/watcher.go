// Package chainwatcher polls an EVM chain for TreeChanged-style events
// emitted by an on-chain identity manager contract and feeds the decoded
// root transitions into an identity tree.
package chainwatcher

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/eth2030/idtree-core/hash"
	"github.com/eth2030/idtree-core/identitytree"
	"github.com/eth2030/idtree-core/log"
	"github.com/eth2030/idtree-core/metrics"
)

// ErrNoConfirmedBlocks is returned by a poll iteration when the chain has
// not yet advanced block_confirmations past the last processed block.
var ErrNoConfirmedBlocks = errors.New("chainwatcher: no newly confirmed blocks")

// treeChangedSignature is the keccak256 topic0 of the identity manager's
// TreeChanged(uint256 indexed preRoot, uint256 indexed postRoot, uint256[]
// leafUpdates) event.
var treeChangedSignature = common.HexToHash("0x" +
	"3add8b0db85594526be3666a3d8a6a4234750be44d0fabebf1f6562d166f23f4")

var leafUpdatesArgs = abi.Arguments{
	{Type: mustNewUint256Type()},
}

func mustNewUint256Type() abi.Type {
	t, err := abi.NewType("uint256[]", "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// LogFilterer is the subset of ethclient.Client this package needs: polling
// historical logs and the chain head. Satisfied by *ethclient.Client.
type LogFilterer interface {
	ethereum.LogFilterer
	BlockNumber(ctx context.Context) (uint64, error)
}

// UpdateSink receives decoded root transitions. *identitytree.IdentityTree
// satisfies this directly.
type UpdateSink interface {
	AppendUpdates(root identitytree.RootDescriptor, updates identitytree.LeafUpdates) (identitytree.NodePatch, error)
}

// Config configures a single Watcher.
type Config struct {
	// Contract is the identity manager contract address to watch.
	Contract common.Address
	// PollInterval is how often to check for new confirmed blocks.
	PollInterval time.Duration
	// Confirmations is how many blocks to wait behind the chain head
	// before treating a block's logs as final.
	Confirmations uint64
	// StartBlock is the first block to scan from on a cold start.
	StartBlock uint64
}

// Watcher polls a chain for TreeChanged events on a single contract and
// forwards decoded updates to a sink.
type Watcher struct {
	client LogFilterer
	sink   UpdateSink
	cfg    Config
	logger *log.Logger

	mu            sync.Mutex
	lastProcessed uint64
}

// New creates a Watcher. It does not start polling until Run is called.
func New(client LogFilterer, sink UpdateSink, cfg Config) *Watcher {
	return &Watcher{
		client:        client,
		sink:          sink,
		cfg:           cfg,
		logger:        log.Default().Module("chainwatcher"),
		lastProcessed: cfg.StartBlock,
	}
}

// Run polls on cfg.PollInterval until ctx is canceled, forwarding every
// confirmed TreeChanged event it observes to the sink in block order.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.pollOnce(ctx); err != nil && !errors.Is(err, ErrNoConfirmedBlocks) {
				metrics.WatcherPollErrors.Inc()
				w.logger.Error("poll failed", "err", err)
			}
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) error {
	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if head < w.cfg.Confirmations {
		return ErrNoConfirmedBlocks
	}
	confirmed := head - w.cfg.Confirmations
	last := w.LastProcessed()
	if confirmed <= last {
		return ErrNoConfirmedBlocks
	}

	logs, err := w.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(last + 1),
		ToBlock:   new(big.Int).SetUint64(confirmed),
		Addresses: []common.Address{w.cfg.Contract},
		Topics:    [][]common.Hash{{treeChangedSignature}},
	})
	if err != nil {
		return err
	}

	for _, l := range logs {
		root, updates, err := decodeTreeChanged(l)
		if err != nil {
			w.logger.Warn("skipping undecodable log", "tx", l.TxHash, "err", err)
			continue
		}
		metrics.WatcherEventsSeen.Inc()
		if _, err := w.sink.AppendUpdates(root, updates); err != nil {
			w.logger.Error("append_updates failed", "root", root.Hash.Hex(), "err", err)
			continue
		}
	}
	w.setLastProcessed(confirmed)
	return nil
}

func (w *Watcher) setLastProcessed(block uint64) {
	w.mu.Lock()
	w.lastProcessed = block
	w.mu.Unlock()
	metrics.WatcherBlockHeight.Set(int64(block))
}

// LastProcessed returns the highest block number whose logs have been fully
// forwarded to the sink.
func (w *Watcher) LastProcessed() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastProcessed
}

// decodeTreeChanged decodes a TreeChanged log into a RootDescriptor and a
// LeafUpdates batch. The indexed postRoot is topic 2; the leaf index/value
// pairs are ABI-encoded in Data as a flat uint256 array alternating (leaf
// index, value).
func decodeTreeChanged(l types.Log) (identitytree.RootDescriptor, identitytree.LeafUpdates, error) {
	if len(l.Topics) < 3 {
		return identitytree.RootDescriptor{}, identitytree.LeafUpdates{}, errors.New("chainwatcher: malformed TreeChanged log: missing topics")
	}
	postRoot := hash.FromBigInt(l.Topics[2].Big())
	root := identitytree.RootDescriptor{Hash: postRoot, BlockNumber: l.BlockNumber}

	unpacked, err := leafUpdatesArgs.Unpack(l.Data)
	if err != nil {
		return identitytree.RootDescriptor{}, identitytree.LeafUpdates{}, err
	}
	flat, ok := unpacked[0].([]*big.Int)
	if !ok || len(flat)%2 != 0 {
		return identitytree.RootDescriptor{}, identitytree.LeafUpdates{}, errors.New("chainwatcher: malformed leaf update payload")
	}

	leaves := make(map[uint64]hash.Hash, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		leaves[flat[i].Uint64()] = hash.FromBigInt(flat[i+1])
	}
	updates := identitytree.LeafUpdates{Kind: identitytree.Insert, Leaves: leaves}
	return root, updates, nil
}
