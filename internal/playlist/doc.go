// Package playlist turns flat M3U-style playlist files into capture jobs.
//
// A playlist is UTF-8 text with one stream URL per line. Blank lines and lines
// starting with '#' (comments and extended M3U directives alike) are ignored.
// URLs are not validated here; malformed entries surface later as fetch
// failures.
package playlist
