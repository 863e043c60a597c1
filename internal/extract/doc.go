// Package extract turns downloaded artifacts into normalized UTF-8 text
// files, one per record, ready for the merge stage.
package extract
