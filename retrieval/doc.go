// Package retrieval provides the Retrieval Gateway: one query fans out to the
// selected vector stores, store-specific scores are normalized to a common
// [0,1] higher-is-better scale, documents found in several stores are merged
// by id keeping the best score, and the result is capped at k.
//
// Stores live in subpackages: memstore keeps vectors in process, pgvector
// queries PostgreSQL with the pgvector extension.
package retrieval
