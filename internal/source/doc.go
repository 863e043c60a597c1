// Package source implements listing adapters. ArxivAdapter scrapes an arXiv
// search results page with goquery; JSONAdapter reads a JSON array of records
// from disk or over HTTP. Both share the run's rate-limited HTTP client.
package source
