package encoding

import "math"

// MaxLevel is the strongest FLAC compression level.
const MaxLevel = 8

// Level maps a 0-100 quality setting onto FLAC levels 0-8.
func Level(quality int) int {
	return int(math.Round(float64(quality) * MaxLevel / 100))
}

// levelParams are the native encoder settings for one compression level.
type levelParams struct {
	blockSize int
	maxOrder  int
}

var levels = [MaxLevel + 1]levelParams{
	{blockSize: 1152, maxOrder: 1},
	{blockSize: 1152, maxOrder: 2},
	{blockSize: 1152, maxOrder: 2},
	{blockSize: 4096, maxOrder: 3},
	{blockSize: 4096, maxOrder: 4},
	{blockSize: 4096, maxOrder: 4},
	{blockSize: 4096, maxOrder: 4},
	{blockSize: 4096, maxOrder: 4},
	{blockSize: 4608, maxOrder: 4},
}

func paramsFor(level int) levelParams {
	level = max(0, min(level, MaxLevel))
	return levels[level]
}
