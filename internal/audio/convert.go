package audio

import (
	"fmt"
	"io"
	"math"

	"github.com/gopxl/beep/v2"
)

// resampleQuality is passed to beep.Resample; 4 is a good speed/quality
// trade-off for offline conversion.
const resampleQuality = 4

func fullScale(bits int) float64 {
	return float64(int64(1)<<(bits-1) - 1)
}

func quantize(v float64, bits int) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(math.Round(v * fullScale(bits)))
}

// quantizeFrames writes len(src) frames into dst in format f. Stereo input
// folds to mono by averaging.
func quantizeFrames(dst []int, src [][2]float64, f Format) {
	switch f.Channels {
	case 1:
		for i, fr := range src {
			dst[i] = quantize((fr[0]+fr[1])/2, f.BitDepth)
		}
	default:
		for i, fr := range src {
			dst[2*i] = quantize(fr[0], f.BitDepth)
			dst[2*i+1] = quantize(fr[1], f.BitDepth)
		}
	}
}

// dequantizeFrames is the inverse of quantizeFrames. Mono is duplicated into
// both channels; channels beyond the second are dropped.
func dequantizeFrames(dst [][2]float64, src []int, f Format) {
	scale := fullScale(f.BitDepth)
	ch := f.Channels
	for i := range dst {
		left := float64(src[i*ch]) / scale
		right := left
		if ch > 1 {
			right = float64(src[i*ch+1]) / scale
		}
		dst[i] = [2]float64{left, right}
	}
}

func readQuantized(s beep.Streamer, buf *[][2]float64, dst []int, f Format) (int, error) {
	frames := len(dst) / f.Channels
	if frames == 0 {
		return 0, io.ErrShortBuffer
	}
	if cap(*buf) < frames {
		*buf = make([][2]float64, frames)
	}
	samples := (*buf)[:frames]
	n, ok := s.Stream(samples)
	if !ok || n == 0 {
		if err := s.Err(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	quantizeFrames(dst, samples[:n], f)
	return n * f.Channels, nil
}

// floatView presents an integer stream as a beep.Streamer.
type floatView struct {
	src  stream
	ints []int
	err  error
}

func (v *floatView) Stream(samples [][2]float64) (int, bool) {
	if len(samples) == 0 {
		return 0, true
	}
	f := v.src.Format()
	need := len(samples) * f.Channels
	if cap(v.ints) < need {
		v.ints = make([]int, need)
	}
	n, err := v.src.Read(v.ints[:need])
	if err != nil {
		if err != io.EOF {
			v.err = err
		}
		return 0, false
	}
	frames := n / f.Channels
	dequantizeFrames(samples[:frames], v.ints[:n], f)
	return frames, true
}

func (v *floatView) Err() error { return v.err }

// converted adapts src to a different sample rate, channel count or bit
// depth.
type converted struct {
	src      stream
	streamer beep.Streamer
	format   Format
	buf      [][2]float64
}

func convert(src stream, target Format) (stream, error) {
	from := src.Format()
	if target.Channels > 2 {
		return nil, fmt.Errorf("cannot convert %s to %s", from, target)
	}
	streamer := src.floats()
	if from.SampleRate != target.SampleRate {
		streamer = beep.Resample(resampleQuality, beep.SampleRate(from.SampleRate), beep.SampleRate(target.SampleRate), streamer)
	}
	return &converted{src: src, streamer: streamer, format: target}, nil
}

func (c *converted) Format() Format { return c.format }

func (c *converted) Read(dst []int) (int, error) {
	return readQuantized(c.streamer, &c.buf, dst, c.format)
}

func (c *converted) floats() beep.Streamer { return c.streamer }

func (c *converted) Close() error { return c.src.Close() }
