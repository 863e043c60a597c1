// Package diff selects the listing records that are not yet committed.
package diff

import "paperpipe/internal/record"

// KeySet builds the identity key set of records.
func KeySet(records []record.Record) map[string]struct{} {
	set := make(map[string]struct{}, len(records))
	for _, r := range records {
		set[r.IdentityKey] = struct{}{}
	}
	return set
}

// ComputeNew returns the fresh records whose identity key is absent from
// existing, preserving fresh order. Duplicates within fresh are all returned;
// later stages collapse them.
func ComputeNew(existing map[string]struct{}, fresh []record.Record) []record.Record {
	out := make([]record.Record, 0, len(fresh))
	for _, r := range fresh {
		if _, seen := existing[r.IdentityKey]; seen {
			continue
		}
		out = append(out, r)
	}
	return out
}
