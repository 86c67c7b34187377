/*
Package replication implements the authoritative replica tracker (C6) and
the semantic-affinity replication manager (C7): placement scoring against
the similarity graph, a priority task queue, and a bounded worker pool that
drives replication tasks to completion with retry/backoff.
*/
package replication
