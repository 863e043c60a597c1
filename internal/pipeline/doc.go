// Package pipeline runs one incremental acquisition pass: list the source,
// diff against the state store, fetch and extract what is new, merge texts
// into the corpus, and commit the batch to the state store.
//
// A run holds an exclusive lock on the working directory. Per-record failures
// never abort the run; they are recorded in the ledger and retried on the next
// pass. Only records whose text reached the corpus are committed, so a record
// missing from the state store is always picked up again.
package pipeline
