// Command paperpipe runs the incremental paper acquisition pipeline.
//
// `paperpipe run` executes one pass for external schedulers and exits non-zero
// when the run fails. `paperpipe daemon` repeats the pass daily at
// schedule.time and can serve Prometheus metrics. `status` and `state list`
// inspect the working directory without running anything.
package main
