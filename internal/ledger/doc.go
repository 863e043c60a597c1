// Package ledger persists per-item pipeline progress in SQLite.
//
// The JSON state store stays authoritative for deduplication; the ledger
// adds what it cannot express: which stage each tracked record reached, how
// often it failed and why, the merge journal that keeps a text file from
// being folded into the corpus twice, and a history of runs.
//
// The database carries a schema_version row. A mismatch is reported as
// ErrSchemaMismatch and resolved by deleting the file; nothing in it is
// needed to rebuild the corpus or the state store.
package ledger
