// Package fileutil holds the file helpers shared by the assembler and the
// watch service: atomic verified copies and cross-device moves.
package fileutil
