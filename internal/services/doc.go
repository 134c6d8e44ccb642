// Package services defines shared utilities consumed by the capture pipeline
// stages and the watch service.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, playlist paths, and
//     stream positions for logging.
//   - Structured error markers plus the Wrap helper so fetch, assembly,
//     encoding, and relocation failures can be told apart with errors.Is and
//     recorded consistently in job history.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
