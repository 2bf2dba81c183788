package metrics

// Pre-defined metrics for the identity tree core. All metrics live in
// DefaultRegistry so they are globally accessible without passing a registry
// around.

var (
	// ---- Identity tree metrics ----

	// TreeSize tracks the number of active non-zero leaves: canonical
	// leaves plus leaves staged by appended overlay updates.
	TreeSize = DefaultRegistry.Gauge("tree.size")
	// TreeUpdateTime records append_updates duration in milliseconds.
	TreeUpdateTime = DefaultRegistry.Histogram("tree.update_ms")
	// LeavesInserted counts leaves inserted into the canonical tree.
	LeavesInserted = DefaultRegistry.Counter("tree.leaves_inserted")
	// LeavesDeleted counts leaves deleted from the canonical tree.
	LeavesDeleted = DefaultRegistry.Counter("tree.leaves_deleted")

	// ---- Overlay metrics ----

	// OverlaySize tracks the number of pending root descriptors in the
	// overlay store.
	OverlaySize = DefaultRegistry.Gauge("overlay.size")
	// RootsPromoted counts overlay roots promoted to canonical.
	RootsPromoted = DefaultRegistry.Counter("overlay.roots_promoted")
	// RootsDiscarded counts overlay roots discarded on promotion of a later
	// block.
	RootsDiscarded = DefaultRegistry.Counter("overlay.roots_discarded")

	// ---- Chain watcher metrics ----

	// WatcherBlockHeight tracks the last block number processed by the
	// chain watcher.
	WatcherBlockHeight = DefaultRegistry.Gauge("watcher.block_height")
	// WatcherEventsSeen counts TreeChanged-style events observed on chain.
	WatcherEventsSeen = DefaultRegistry.Counter("watcher.events_seen")
	// WatcherPollErrors counts failed polling attempts.
	WatcherPollErrors = DefaultRegistry.Counter("watcher.poll_errors")

	// ---- State bridge metrics ----

	// BridgeRelaysSent counts successful root relays to bridge targets.
	BridgeRelaysSent = DefaultRegistry.Counter("bridge.relays_sent")
	// BridgeRelayErrors counts failed relay attempts.
	BridgeRelayErrors = DefaultRegistry.Counter("bridge.relay_errors")
	// BridgeRelayLatency records end-to-end relay latency in milliseconds.
	BridgeRelayLatency = DefaultRegistry.Histogram("bridge.relay_latency_ms")

	// ---- Proof serving metrics ----

	// ProofsServed counts inclusion proofs returned to callers.
	ProofsServed = DefaultRegistry.Counter("proof.served")
	// ProofErrors counts inclusion proof requests that failed (unknown leaf
	// or unknown root).
	ProofErrors = DefaultRegistry.Counter("proof.errors")
)
