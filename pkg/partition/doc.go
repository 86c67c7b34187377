/*
Package partition owns the mapping from documents to partitions to cluster
nodes (C3/C4). It wraps a *vptree.Tree with the current leaf->node
assignment table and recomputes both atomically on rebuild or reassignment,
so lookups never observe a tree built against one assignment and a table
built against another.
*/
package partition
