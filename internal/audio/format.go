package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Format describes interleaved integer PCM.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

func (f Format) String() string {
	return fmt.Sprintf("%d Hz/%d-bit/%dch", f.SampleRate, f.BitDepth, f.Channels)
}

// Valid reports whether the format can be written to a WAV container.
func (f Format) Valid() bool {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return false
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
		return true
	default:
		return false
	}
}

// FrameBytes is the size of one interleaved frame in the WAV data chunk.
func (f Format) FrameBytes() int {
	return f.BitDepth / 8 * f.Channels
}

// Container identifies an input by its leading bytes.
type Container int

const (
	ContainerUnknown Container = iota
	ContainerWAV
	ContainerFLAC
	ContainerOgg
	ContainerMP3
)

func (c Container) String() string {
	switch c {
	case ContainerWAV:
		return "wav"
	case ContainerFLAC:
		return "flac"
	case ContainerOgg:
		return "ogg"
	case ContainerMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

const sniffLen = 12

// Sniff classifies a stream from its first bytes.
func Sniff(header []byte) Container {
	switch {
	case len(header) >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return ContainerWAV
	case bytes.HasPrefix(header, []byte("fLaC")):
		return ContainerFLAC
	case bytes.HasPrefix(header, []byte("OggS")):
		return ContainerOgg
	case bytes.HasPrefix(header, []byte("ID3")):
		return ContainerMP3
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return ContainerMP3
	default:
		return ContainerUnknown
	}
}

// SniffFile reads the leading bytes of path and classifies them.
func SniffFile(path string) (Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return ContainerUnknown, err
	}
	defer f.Close()
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ContainerUnknown, err
	}
	return Sniff(header[:n]), nil
}
