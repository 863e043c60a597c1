// Package scheduler triggers a job once a day at a fixed local time. It is
// the timer behind daemon mode; one-shot runs do not use it.
package scheduler
