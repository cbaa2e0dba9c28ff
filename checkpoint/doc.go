// Package checkpoint persists immutable execution snapshots taken after each
// superstep. A checkpoint is identified by a blake3 digest of its execution
// id, step, state and pending frontier, so saving the same snapshot twice is
// a no-op and a stored id never changes meaning.
//
// The Manager serializes saves per execution and applies retention; Stores
// only move opaque bytes. MemoryStore keeps them in process, redisstore in
// Redis.
package checkpoint
