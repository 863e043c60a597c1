// Package state persists the committed record set that decides which listing
// items are new. The file is a JSON array, newest first, rewritten atomically.
package state
