// Package staging removes in-flight temp files (".part", ".tmp") left behind
// when a previous run was interrupted.
package staging
