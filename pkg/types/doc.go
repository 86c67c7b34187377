/*
Package types defines the core data structures shared across distrisearch.

It holds the document and vector-bundle model, cluster node records, replica
sets, and the enumerations (node status, replica status, operation mode,
consistency level, degradation level, bootstrap phase) that the rest of the
packages build on. Types here are plain structs: serialization, storage
encoding, and RPC marshaling live in the packages that need them.
*/
package types
