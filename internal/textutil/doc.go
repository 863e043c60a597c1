// Package textutil provides text helpers shared by the pipeline stages.
//
// The primary use cases are:
//   - Building deterministic, filesystem-safe file name stems from a title
//     and an identity key
//   - Coercing extracted document text to valid, NFC-normalized UTF-8
package textutil
