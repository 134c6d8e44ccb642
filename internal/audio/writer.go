package audio

import (
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavWriter appends integer frames to a PCM WAV file.
type wavWriter struct {
	file   *os.File
	enc    *wav.Encoder
	format Format
	buf    *goaudio.IntBuffer
	frames int64
}

func createWAV(path string, format Format) (*wavWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &wavWriter{
		file:   file,
		enc:    wav.NewEncoder(file, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM),
		format: format,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: format.BitDepth,
		},
	}, nil
}

// Write appends whole frames of signed samples.
func (w *wavWriter) Write(samples []int) error {
	data := samples
	if w.format.BitDepth == 8 {
		data = make([]int, len(samples))
		for i, v := range samples {
			data[i] = v + 128
		}
	}
	w.buf.Data = data
	if err := w.enc.Write(w.buf); err != nil {
		return err
	}
	w.frames += int64(len(samples) / w.format.Channels)
	return nil
}

// Close finalizes the RIFF header. A writer that received no frames has no
// header to finalize and only closes the file.
func (w *wavWriter) Close() error {
	if w.frames == 0 {
		return w.file.Close()
	}
	if err := w.enc.Close(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
