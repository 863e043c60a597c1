// Package fetch downloads the binary artifact of each new record.
//
// Downloads stream into "<slug><ext>.part", created exclusively so two
// workers handed the same slug never write the same file, and are renamed
// onto the final path only after a successful fsync. An existing final
// artifact means a previous run already downloaded it and the record is
// skipped.
package fetch
