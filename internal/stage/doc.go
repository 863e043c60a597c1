// Package stage defines the shared contract between pipeline stages and the
// orchestrator.
//
// It owns the error kinds every stage tags its failures with, the per-item
// Result and Report values stages return instead of aborting a batch, the
// context helpers that stamp run ids, stage names, and identity keys for
// logging, and the Health record used by preflight and status reporting.
package stage
