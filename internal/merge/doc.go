// Package merge maintains the corpus file.
//
// Each run rewrites the corpus atomically: previous content, then every new
// text file, joined by the configured separator. Before the rename the
// merged slugs are journaled against the SHA-256 of the new corpus, so a
// crash between the rename and the deletion of the merged text files cannot
// fold the same text in twice. Recover settles the journal at run start.
package merge
