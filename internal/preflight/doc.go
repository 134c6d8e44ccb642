// Package preflight provides readiness checks for the filesystem paths and
// external tools flaccapture depends on.
//
// These checks run in two contexts:
//   - The watch daemon calls RunAll at startup and refuses to start when a
//     required directory is unusable.
//   - The CLI deps command prints the same results for the operator.
package preflight
