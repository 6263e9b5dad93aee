package tts

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavSink writes 16-bit little-endian PCM chunks into a WAV file.
type wavSink struct {
	file     *os.File
	enc      *wav.Encoder
	format   *audio.Format
	leftover []byte
}

func newWAVSink(path string, sampleRate, channels int) (*wavSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav file: %w", err)
	}
	return &wavSink{
		file:   file,
		enc:    wav.NewEncoder(file, sampleRate, 16, channels, 1),
		format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

func (s *wavSink) Write(pcm []byte) error {
	data := append(s.leftover, pcm...)
	usable := len(data) - len(data)%2
	s.leftover = append([]byte(nil), data[usable:]...)
	if usable == 0 {
		return nil
	}
	samples := make([]int, usable/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	if err := s.enc.Write(&audio.IntBuffer{Format: s.format, Data: samples, SourceBitDepth: 16}); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

func (s *wavSink) Close() error {
	if err := s.enc.Close(); err != nil {
		s.file.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return s.file.Close()
}
