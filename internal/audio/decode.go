package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gopxl/beep/v2"
	beepflac "github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	beepwav "github.com/gopxl/beep/v2/wav"
)

// WAVE format tags from the fmt chunk.
const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// ErrUnsupportedContainer is returned for inputs whose magic bytes match no
// known container.
var ErrUnsupportedContainer = errors.New("unsupported container")

// stream yields interleaved signed integer samples in its Format. 8-bit
// samples are centred on zero like every other depth.
type stream interface {
	Format() Format
	// Read fills dst with whole frames and returns the number of samples
	// stored. It returns io.EOF once the stream is exhausted.
	Read(dst []int) (int, error)
	// floats exposes the stream to beep for resampling and channel mixing.
	floats() beep.Streamer
	Close() error
}

func openStream(path string) (stream, Container, error) {
	container, err := SniffFile(path)
	if err != nil {
		return nil, ContainerUnknown, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, container, err
	}

	var (
		s       stream
		decoded beep.StreamSeekCloser
		format  beep.Format
	)
	switch container {
	case ContainerWAV:
		s, err = openWAV(f)
	case ContainerFLAC:
		decoded, format, err = beepflac.Decode(f)
	case ContainerOgg:
		decoded, format, err = vorbis.Decode(f)
	case ContainerMP3:
		decoded, format, err = mp3.Decode(f)
	default:
		err = ErrUnsupportedContainer
	}
	if err != nil {
		_ = f.Close()
		return nil, container, fmt.Errorf("decode %s: %w", container, err)
	}
	if decoded != nil {
		s, err = newBeepStream(decoded, format, f)
		if err != nil {
			_ = decoded.Close()
			_ = f.Close()
			return nil, container, err
		}
	}
	return s, container, nil
}

// ErrFloatPCM marks a WAV whose samples are IEEE floats.
var ErrFloatPCM = errors.New("floating point wav")

// openWAV reads integer PCM directly and hands floating point data to beep.
func openWAV(f *os.File) (stream, error) {
	reader, err := NewPCMReader(f)
	if errors.Is(err, ErrFloatPCM) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		decoded, format, err := beepwav.Decode(f)
		if err != nil {
			return nil, err
		}
		return newBeepStream(decoded, format, f)
	}
	if err != nil {
		return nil, err
	}
	return &pcmStream{PCMReader: reader, file: f}, nil
}

// PCMReader reads integer samples verbatim from a WAV container.
type PCMReader struct {
	dec     *wav.Decoder
	format  Format
	buf     *goaudio.IntBuffer
	pending []int
	eof     bool
}

// NewPCMReader parses the WAV header of r and positions it at the sample
// data. Floating point files return ErrFloatPCM.
func NewPCMReader(r io.ReadSeeker) (*PCMReader, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, err
	}
	if dec.NumChans == 0 {
		return nil, errors.New("missing fmt chunk")
	}
	switch dec.WavAudioFormat {
	case wavFormatPCM, wavFormatExtensible:
	case wavFormatFloat:
		return nil, ErrFloatPCM
	default:
		return nil, fmt.Errorf("wav format tag %d not supported", dec.WavAudioFormat)
	}

	format := Format{
		SampleRate: int(dec.SampleRate),
		BitDepth:   int(dec.BitDepth),
		Channels:   int(dec.NumChans),
	}
	if !format.Valid() {
		return nil, fmt.Errorf("unsupported pcm layout %s", format)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, err
	}
	if dec.PCMChunk == nil {
		return nil, wav.ErrPCMChunkNotFound
	}
	return &PCMReader{
		dec:    dec,
		format: format,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			Data:           make([]int, 4096*format.Channels),
			SourceBitDepth: format.BitDepth,
		},
	}, nil
}

func (p *PCMReader) Format() Format { return p.format }

// Frames is the frame count declared by the data chunk.
func (p *PCMReader) Frames() int64 {
	return p.dec.PCMLen() / int64(p.format.FrameBytes())
}

// Read fills dst with whole frames of signed samples and returns the number
// of samples stored, or io.EOF at the end of the data chunk.
func (p *PCMReader) Read(dst []int) (int, error) {
	ch := p.format.Channels
	want := len(dst) / ch * ch
	if want == 0 {
		return 0, io.ErrShortBuffer
	}
	for len(p.pending) < want && !p.eof {
		p.buf.Data = p.buf.Data[:cap(p.buf.Data)]
		n, err := p.dec.PCMBuffer(p.buf)
		if err != nil {
			return 0, err
		}
		if n <= 0 {
			p.eof = true
			break
		}
		p.pending = append(p.pending, p.buf.Data[:n]...)
	}

	// A trailing partial frame is padding and is dropped.
	n := min(want, len(p.pending)/ch*ch)
	if n == 0 {
		return 0, io.EOF
	}
	copy(dst, p.pending[:n])
	p.pending = append(p.pending[:0], p.pending[n:]...)
	if p.format.BitDepth == 8 {
		for i := range dst[:n] {
			dst[i] -= 128
		}
	}
	return n, nil
}

type pcmStream struct {
	*PCMReader
	file *os.File
}

func (s *pcmStream) floats() beep.Streamer {
	return &floatView{src: s}
}

func (s *pcmStream) Close() error {
	return s.file.Close()
}

// beepStream adapts a beep decoder, quantizing to the declared precision.
type beepStream struct {
	decoded beep.StreamSeekCloser
	file    *os.File
	format  Format
	buf     [][2]float64
}

func newBeepStream(decoded beep.StreamSeekCloser, format beep.Format, file *os.File) (*beepStream, error) {
	f := Format{
		SampleRate: int(format.SampleRate),
		BitDepth:   format.Precision * 8,
		Channels:   format.NumChannels,
	}
	if f.BitDepth == 0 {
		f.BitDepth = 16
	}
	if !f.Valid() || f.Channels > 2 {
		return nil, fmt.Errorf("unsupported decoded layout %s", f)
	}
	return &beepStream{decoded: decoded, file: file, format: f}, nil
}

func (s *beepStream) Format() Format { return s.format }

func (s *beepStream) Read(dst []int) (int, error) {
	return readQuantized(s.decoded, &s.buf, dst, s.format)
}

func (s *beepStream) floats() beep.Streamer { return s.decoded }

func (s *beepStream) Close() error {
	err := s.decoded.Close()
	if cerr := s.file.Close(); err == nil && cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		err = cerr
	}
	return err
}
