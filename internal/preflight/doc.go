// Package preflight provides readiness checks for the filesystem paths and
// the listing endpoint paperpipe depends on.
//
// These checks run in two contexts:
//   - The pipeline calls RunAll before each run. A failed check aborts the
//     run as an environment error before any state is touched.
//   - The CLI "paperpipe status" command additionally calls CheckSource to
//     display listing health.
package preflight
