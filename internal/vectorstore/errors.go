// Package vectorstore implements the Tiered Vector Store (C2): an L1
// in-memory LRU hot tier, an L2 on-disk approximate-nearest-neighbor
// warm tier, and an L3 relational cold source of truth, composed behind
// one Store façade.
package vectorstore

import "errors"

// ErrDimensionMismatch is returned before any write when a fragment's
// vector length disagrees with the project's fixed embedding dimension.
var ErrDimensionMismatch = errors.New("vectorstore: embedding dimension mismatch")

// ErrNotFound is returned by Get when a fragment id is absent from L1
// and L3. Deleting an absent id succeeds without error.
var ErrNotFound = errors.New("vectorstore: fragment not found")
