// Package deps locates external executables flaccapture can delegate to and
// reports their availability for the deps command and startup logging.
package deps
