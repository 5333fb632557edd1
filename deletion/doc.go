// Package deletion runs the per-agent deletion queue.
//
// A queue entry names a scope (a whole agent namespace, specific documents,
// or orphaned chunks) and is processed in batches ordered by chunk id. Each
// batch is removed from the vector store with a single call, then the chunk
// rows are deleted and the entry's checkpoint and counter are advanced in
// one transaction that compares against the checkpoint it started from. A
// crashed or interrupted worker resumes after the last committed checkpoint,
// so no chunk is counted twice.
package deletion
