package encoding

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"math/bits"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"flaccapture/internal/audio"
)

var errUnsupportedInput = errors.New("input layout not supported by the native encoder")

const maxChannels = 8

type nativeStats struct {
	frames int64
	blocks int
	digest []byte
}

// encodeNative compresses the PCM WAV read from in into a new FLAC file at
// outputPath. The returned digest covers every encoded sample and is checked
// by verifyNative.
func encodeNative(ctx context.Context, in io.ReadSeeker, outputPath string, level int) (nativeStats, error) {
	var stats nativeStats
	reader, err := audio.NewPCMReader(in)
	if err != nil {
		return stats, fmt.Errorf("%w: %v", errUnsupportedInput, err)
	}
	format := reader.Format()
	switch format.BitDepth {
	case 8, 16, 24:
	default:
		return stats, fmt.Errorf("%w: %d-bit samples", errUnsupportedInput, format.BitDepth)
	}
	if format.Channels > maxChannels {
		return stats, fmt.Errorf("%w: %d channels", errUnsupportedInput, format.Channels)
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return stats, err
	}
	defer func() { _ = out.Close() }()

	params := paramsFor(level)
	enc, err := flac.NewEncoder(out, &meta.StreamInfo{
		BlockSizeMin:  uint16(params.blockSize),
		BlockSizeMax:  uint16(params.blockSize),
		SampleRate:    uint32(format.SampleRate),
		NChannels:     uint8(format.Channels),
		BitsPerSample: uint8(format.BitDepth),
		NSamples:      uint64(reader.Frames()),
	})
	if err != nil {
		return stats, fmt.Errorf("create flac encoder: %w", err)
	}

	ch := format.Channels
	interleaved := make([]int, params.blockSize*ch)
	channels := make([][]int32, ch)
	for c := range channels {
		channels[c] = make([]int32, params.blockSize)
	}
	residual := make([]int64, 0, params.blockSize)
	digest := md5.New()
	var sample [4]byte

	for num := uint64(0); ; num++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := readBlock(reader, interleaved)
		if err != nil {
			return stats, fmt.Errorf("read pcm: %w", err)
		}
		if n == 0 {
			break
		}
		frames := n / ch
		for i := 0; i < frames; i++ {
			for c := 0; c < ch; c++ {
				v := int32(interleaved[i*ch+c])
				channels[c][i] = v
				binary.LittleEndian.PutUint32(sample[:], uint32(v))
				digest.Write(sample[:])
			}
		}

		subframes := make([]*frame.Subframe, ch)
		for c := range subframes {
			subframes[c], residual = buildSubframe(channels[c][:frames], params.maxOrder, format.BitDepth, residual)
		}
		f := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(frames),
				SampleRate:        uint32(format.SampleRate),
				Channels:          frame.Channels(ch - 1),
				BitsPerSample:     uint8(format.BitDepth),
				Num:               num,
			},
			Subframes: subframes,
		}
		if err := enc.WriteFrame(f); err != nil {
			return stats, fmt.Errorf("write frame %d: %w", num, err)
		}
		stats.frames += int64(frames)
		stats.blocks++
	}

	if err := enc.Close(); err != nil {
		return stats, fmt.Errorf("finalize flac stream: %w", err)
	}
	if err := out.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return stats, err
	}
	stats.digest = digest.Sum(nil)
	return stats, nil
}

// readBlock fills buf unless the input ends first.
func readBlock(r *audio.PCMReader, buf []int) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func buildSubframe(samples []int32, maxOrder, bps int, scratch []int64) (*frame.Subframe, []int64) {
	n := len(samples)
	if isConstant(samples) {
		return &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredConstant},
			Samples:   samples,
			NSamples:  n,
		}, scratch
	}

	bestOrder, bestCost := 0, uint64(0)
	for order := 0; order <= maxOrder && order < n; order++ {
		scratch = fixedResidual(samples, order, scratch)
		cost := absSum(scratch)
		if order == 0 || cost < bestCost {
			bestOrder, bestCost = order, cost
		}
	}
	scratch = fixedResidual(samples, bestOrder, scratch)
	param := riceParam(scratch, bps)
	method := frame.ResidualCodingMethodRice1
	if param > 14 {
		method = frame.ResidualCodingMethodRice2
	}
	return &frame.Subframe{
		SubHeader: frame.SubHeader{
			Pred:                 frame.PredFixed,
			Order:                bestOrder,
			ResidualCodingMethod: method,
			RiceSubframe: &frame.RiceSubframe{
				PartOrder:  0,
				Partitions: []frame.RicePartition{{Param: param}},
			},
		},
		Samples:  samples,
		NSamples: n,
	}, scratch
}

func isConstant(samples []int32) bool {
	for _, v := range samples[1:] {
		if v != samples[0] {
			return false
		}
	}
	return true
}

// fixedResidual applies the order-th fixed polynomial predictor.
func fixedResidual(x []int32, order int, dst []int64) []int64 {
	dst = dst[:0]
	for i := order; i < len(x); i++ {
		var r int64
		switch order {
		case 0:
			r = int64(x[i])
		case 1:
			r = int64(x[i]) - int64(x[i-1])
		case 2:
			r = int64(x[i]) - 2*int64(x[i-1]) + int64(x[i-2])
		case 3:
			r = int64(x[i]) - 3*int64(x[i-1]) + 3*int64(x[i-2]) - int64(x[i-3])
		default:
			r = int64(x[i]) - 4*int64(x[i-1]) + 6*int64(x[i-2]) - 4*int64(x[i-3]) + int64(x[i-4])
		}
		dst = append(dst, r)
	}
	return dst
}

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func absSum(residual []int64) uint64 {
	var sum uint64
	for _, r := range residual {
		sum += zigzag(r)
	}
	return sum
}

// riceParam picks the Rice parameter minimizing the coded size of residual,
// searching around the estimate derived from the mean magnitude.
func riceParam(residual []int64, bps int) uint {
	limit := 14
	if bps > 16 {
		limit = 30
	}
	if len(residual) == 0 {
		return 0
	}
	mean := absSum(residual) / uint64(len(residual))
	guess := bits.Len64(mean)
	best, bestBits := 0, ^uint64(0)
	for k := max(0, guess-2); k <= min(limit, guess+2); k++ {
		size := uint64(len(residual)) * uint64(k+1)
		for _, r := range residual {
			size += zigzag(r) >> uint(k)
		}
		if size < bestBits {
			best, bestBits = k, size
		}
	}
	return uint(best)
}

// verifyNative decodes path and compares its samples against want.
func verifyNative(path string, want []byte) error {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("reopen flac: %w", err)
	}
	defer stream.Close()

	digest := md5.New()
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}
		hashFrame(digest, f)
	}
	if !bytes.Equal(digest.Sum(nil), want) {
		return errors.New("decoded samples differ from the source")
	}
	return nil
}

func hashFrame(h hash.Hash, f *frame.Frame) {
	var sample [4]byte
	for i := 0; i < int(f.BlockSize); i++ {
		for _, sub := range f.Subframes {
			binary.LittleEndian.PutUint32(sample[:], uint32(sub.Samples[i]))
			h.Write(sample[:])
		}
	}
}
