/*
Package cluster implements adaptive cluster coordination (C14-C16): the
configuration that shrinks and grows with the healthy node count, the
single-node-to-cluster bootstrap sequence, Bully leader election, and the
degradation manager that ties the three together behind one capability
surface.

# Adaptive configuration (C14)

AdaptiveConfig.UpdateForClusterSize derives replication factor, quorum
size, operation mode, and consistency level purely from the number of
currently-healthy nodes, per spec §4.7's table. The system always operates,
even alone: at n=1 the effective replication factor drops to 0 rather than
refusing writes.

# Bootstrap (C15)

Bootstrap carries a node from INITIALIZING through a seed-probe discovery
window to either SINGLE_LEADER (no cluster found, allow_single_node) or
CLUSTER_FORMING/OPERATIONAL (joined or grew past one node).

# Election (C16)

Election implements the Bully algorithm over an injected PeerSender rather
than the reference implementation's raw UDP socket — in this module peer
messages travel over the same pkg/rpc transport as every other peer call,
so Election only needs to format ELECTION/OK/COORDINATOR messages and drive
timeouts; sending them is someone else's concern.

# Degradation manager (C16)

DegradationManager composes AdaptiveConfig, Bootstrap, and Election,
publishes a single Capabilities snapshot, and notifies registered callbacks
whenever the degradation level changes. Partition handling follows spec
§4.7 exactly: a minority partition is tagged PARTITIONED with
is_majority=false but keeps reading and writing (AP), unlike the Python
original's read-only minority behavior — writes made during a minority
partition are just tagged for later sync once the partition heals.
*/
package cluster
