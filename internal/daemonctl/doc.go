// Package daemonctl controls a watch daemon from a separate CLI process.
//
// There is no control socket: the daemon's exclusive lock file says whether
// it is running and its PID file says which process to signal. Start launches
// a detached `flaccapture watch`, Stop sends SIGTERM and escalates to SIGKILL
// after a grace period, and BuildStatusSnapshot combines liveness with the
// history summary, pending inbox entries and dependency checks.
package daemonctl
