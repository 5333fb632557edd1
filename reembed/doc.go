// Package reembed rebuilds an agent's vectors from its stored chunks.
//
// It is used after switching embedding models or vector stores: every chunk
// is upserted again in id order, its RagEntryID is refreshed, and each
// document's reference list is rebuilt. Upserts are idempotent, so a run
// that stops part way can simply be repeated.
package reembed
