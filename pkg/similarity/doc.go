/*
Package similarity implements the per-document neighbor graph (C5) used by
semantic-affinity replica placement. The graph is undirected and weighted:
edges are kept only above a similarity threshold, and each vertex retains
at most a fixed number of neighbors, pruned by lowest weight.
*/
package similarity
