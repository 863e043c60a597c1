// Package record defines the normalized item record that flows through the
// pipeline and the identity key used to deduplicate items across runs.
//
// Identity keys are derived from the item's origin URL (falling back to its
// artifact URL) by extracting the numeric id, so the same item keeps the same
// key regardless of version suffixes. Records are plain values; stages never
// mutate them.
package record
