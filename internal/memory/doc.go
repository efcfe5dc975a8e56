// Package memory stores, retrieves, and ages knowledge that persists
// across tasks and projects.
//
// # Partitions
//
// Knowledge lives in three partitions with different lifetimes:
//
//   - short-term: volatile session context, expires after a TTL (24 h default)
//   - long-term: decisions, rules, and patterns kept indefinitely
//   - episodic: records of past task attempts and reflections
//
// Long-term and episodic items are also indexed in a vector store so
// retrieval can rank by semantic similarity. Short-term items are
// matched by term overlap only.
//
// # Retrieval
//
// Each candidate is scored as similarity times its current relevance
// weight. Retrieval reinforces what it returns: items handed back get
// their access count bumped and their relevance boosted, while
// ApplyDecay erodes the relevance of items nobody has touched for a
// week or more. Prune drops items whose relevance has decayed below a
// threshold.
//
// All operations are best-effort. A broken embedder, a missing index
// entry, or a failed persistence write degrades the result (falling
// back to term matching, skipping the item) instead of failing the
// call.
package memory
