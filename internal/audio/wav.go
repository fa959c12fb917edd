package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

const wavHeaderSize = 44

func newWAVHeader(dataSize, sampleRate int) wavHeader {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * BytesPerSample),
		BlockAlign:    BytesPerSample,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
}

// EncodeWAV wraps a segment's PCM16LE mono audio in a WAV container.
func EncodeWAV(seg Segment) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(seg.PCM))
	if err := WriteWAV(&buf, seg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVFile writes seg to path as a WAV file.
func WriteWAVFile(path string, seg Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, seg); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteWAV writes seg to out as a WAV stream.
func WriteWAV(out io.Writer, seg Segment) error {
	if err := binary.Write(out, binary.LittleEndian, newWAVHeader(len(seg.PCM), seg.SampleRate)); err != nil {
		return err
	}
	_, err := out.Write(seg.PCM)
	return err
}

// DecodeWAV parses a canonical 16-bit mono PCM WAV produced by WriteWAV.
func DecodeWAV(b []byte) (Segment, error) {
	if len(b) < wavHeaderSize {
		return Segment{}, fmt.Errorf("wav: short header (%d bytes)", len(b))
	}
	var h wavHeader
	if err := binary.Read(bytes.NewReader(b[:wavHeaderSize]), binary.LittleEndian, &h); err != nil {
		return Segment{}, err
	}
	if string(h.RIFF[:]) != "RIFF" || string(h.WAVE[:]) != "WAVE" || string(h.Data[:]) != "data" {
		return Segment{}, fmt.Errorf("wav: unsupported layout")
	}
	if h.AudioFormat != 1 || h.NumChannels != 1 || h.BitsPerSample != 16 {
		return Segment{}, fmt.Errorf("wav: want mono pcm16, got format=%d channels=%d bits=%d", h.AudioFormat, h.NumChannels, h.BitsPerSample)
	}
	end := wavHeaderSize + int(h.DataSize)
	if end > len(b) {
		end = len(b)
	}
	return Segment{PCM: append([]byte(nil), b[wavHeaderSize:end]...), SampleRate: int(h.SampleRate)}, nil
}
