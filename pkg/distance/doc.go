/*
Package distance implements the composite document distance function used
by the VP-Tree, node assignment, and similarity graph.

The distance is a weighted sum of three sub-distances over a document's
vector bundle: cosine distance over the name vector, Jaccard distance over
the MinHash signature, and Jensen-Shannon divergence over the topic
distribution. It is deterministic and symmetric and satisfies d(A,A)=0, but
is not a strict metric: the triangle inequality can be violated since it is
a weighted sum of non-metric components. Callers that rely on metric-space
pruning (the VP-Tree) must tolerate the resulting approximate recall.
*/
package distance
