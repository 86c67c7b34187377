/*
Package recovery coordinates the end-to-end response to a node failure
(C12/C13): detection, impact assessment, primary promotion, re-replication,
and verification.

Detection is delegated to pkg/health's Detector. Promotion and
re-replication are delegated to pkg/replication's Manager, which already
owns a worker pool for moving replicas between nodes and already promotes a
healthy replica to primary when the failed node was a document's primary
(Manager.OnNodeFailure) — Service does not duplicate that queue, it only
sequences around it and tracks the resulting Task through named phases for
observability:

	DETECTION -> ASSESSMENT -> PROMOTION -> RE_REPLICATION -> VERIFICATION -> COMPLETED
	                                                                       \-> FAILED

On a failure callback from the detector, Service waits AssessmentDelay for
the cluster to settle, looks up every document the failed node held via the
replication Tracker, hands the affected node to the replication Manager
(which promotes and enqueues repairs), then polls the Manager's queue and
the Tracker's under-replication state until the queue drains or
VerificationTimeout elapses.
*/
package recovery
