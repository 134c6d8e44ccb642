package capture

import (
	"time"

	"flaccapture/internal/audio"
	"flaccapture/internal/encoding"
	"flaccapture/internal/fetch"
)

// State is a step of the capture state machine.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateAssembling State = "assembling"
	StateEncoding   State = "encoding"
	StateDone       State = "done"
)

// Status is the final verdict of a job.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome records everything a job produced. Aborted is set when the fetch
// queue was stopped early; a succeeded outcome then holds only the streams
// fetched before the stop.
type Outcome struct {
	JobID      string
	Playlist   string
	States     []State
	Status     Status
	Requested  int
	Aborted    bool
	Fetches    []fetch.Result
	Assembled  *audio.Assembled
	Encoded    *encoding.Result
	EncodeErr  error
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// State returns the most recent state.
func (o *Outcome) State() State {
	if o == nil || len(o.States) == 0 {
		return StateIdle
	}
	return o.States[len(o.States)-1]
}

func (o *Outcome) Succeeded() bool {
	return o != nil && o.Status == StatusSucceeded
}

// Fetched counts the streams that downloaded successfully.
func (o *Outcome) Fetched() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, r := range o.Fetches {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// OutputPath is the final artifact: the FLAC when encoding succeeded,
// otherwise the WAV.
func (o *Outcome) OutputPath() string {
	switch {
	case o == nil:
		return ""
	case o.Encoded != nil:
		return o.Encoded.OutputPath
	case o.Assembled != nil:
		return o.Assembled.Path
	default:
		return ""
	}
}

// OutputBytes is the size of OutputPath.
func (o *Outcome) OutputBytes() int64 {
	switch {
	case o == nil:
		return 0
	case o.Encoded != nil:
		return o.Encoded.OutputSize
	case o.Assembled != nil:
		return o.Assembled.Bytes
	default:
		return 0
	}
}

func (o *Outcome) Duration() time.Duration {
	if o == nil || o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
