// Package httpclient provides the rate-limited, retrying GET client shared by
// every network call in a run.
//
// One golang.org/x/time/rate limiter with burst 1 gates every attempt, so
// concurrent fetch workers and the listing request together never exceed the
// configured requests per second. Each attempt carries its own timeout and
// retries back off exponentially up to a cap.
package httpclient
