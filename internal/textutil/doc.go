// Package textutil sanitizes playlist-derived names for use in output file
// names.
package textutil
