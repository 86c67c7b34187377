/*
Package health implements distrisearch's cluster failure detector (C11).

Every node in the cluster periodically exchanges heartbeats with its peers
over pkg/rpc. The Detector in this package tracks, per node, when the last
heartbeat arrived and how many consecutive probes have been missed, and
drives that node through a small state machine:

	UNKNOWN -> HEALTHY -> SUSPECT -> FAILED -> RECOVERING -> HEALTHY

A node starts UNKNOWN when registered. Heartbeats move it to HEALTHY and
reset its failure streak. Missed heartbeats accumulate a consecutive-failure
count: crossing SuspectThreshold marks the node SUSPECT, crossing
FailureThreshold marks it FAILED and fires the onFailure callback. A FAILED
node that starts heartbeating again does not jump straight back to HEALTHY —
it enters RECOVERING and fires onRecovery, so a caller (e.g. the recovery
service in pkg/recovery) can require the node to hold a clean heartbeat
streak for some settling period before trusting it for new placements again.

# Detection paths

Two independent paths can move a node toward FAILED:

  - Explicit: a caller invokes RecordFailure after an RPC to the node errors
    or times out.
  - Passive: the background monitor loop (Start/Stop) wakes on
    HeartbeatInterval and marks any node silent for longer than
    FailureTimeout as having missed a beat, without needing an explicit
    failed probe.

Both paths share the same consecutive-failure counter and threshold logic,
so a node passes through SUSPECT before FAILED however the detector learned
about the trouble. The one exception is a node that has never sent a
heartbeat: the monitor loop counts its misses and marks it FAILED straight
from UNKNOWN once FailureThreshold is reached, without a SUSPECT step.

# Usage

	detector := health.NewDetector(health.DefaultConfig(), onFailure, onRecovery)
	detector.RegisterNode("node-1", map[string]string{"address": "10.0.0.1:7000"})
	detector.Start(ctx)
	defer detector.Stop()

	detector.RecordHeartbeat("node-1", latencyMS, nil)
	...
	detector.RecordFailure("node-1", "rpc: deadline exceeded")

	if detector.IsNodeHealthy("node-1") { ... }
*/
package health
