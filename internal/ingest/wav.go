package ingest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	wavFormatPCM  = 1
	wavHeaderSize = 44
)

// errNotWAV marks input that is not a RIFF/WAVE stream.
var errNotWAV = errors.New("not a RIFF/WAVE file")

// WAVInfo describes the fmt and data chunks of a WAV file.
type WAVInfo struct {
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataOffset    int64
	DataSize      int64
}

// Supported reports whether the stream is 16-bit signed PCM.
func (w WAVInfo) Supported() bool {
	return w.Format == wavFormatPCM && w.BitsPerSample == 16 && w.Channels > 0
}

// Duration returns the playback length in seconds.
func (w WAVInfo) Duration() float64 {
	frame := int64(w.Channels) * int64(w.BitsPerSample/8)
	if frame == 0 || w.SampleRate == 0 {
		return 0
	}
	return float64(w.DataSize/frame) / float64(w.SampleRate)
}

// ReadWAVInfo parses the chunk headers of the WAV file at path.
func ReadWAVInfo(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, err
	}
	defer f.Close()
	return parseWAV(f)
}

func parseWAV(r io.ReadSeeker) (WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVInfo{}, errNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, errNotWAV
	}

	var info WAVInfo
	var haveFmt bool
	offset := int64(12)
	for {
		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return WAVInfo{}, fmt.Errorf("%w: missing data chunk", errNotWAV)
		}
		id := string(header[0:4])
		size := int64(binary.LittleEndian.Uint32(header[4:8]))
		offset += 8

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVInfo{}, fmt.Errorf("%w: short fmt chunk", errNotWAV)
			}
			var body [16]byte
			if _, err := io.ReadFull(r, body[:]); err != nil {
				return WAVInfo{}, fmt.Errorf("%w: truncated fmt chunk", errNotWAV)
			}
			info.Format = binary.LittleEndian.Uint16(body[0:2])
			info.Channels = binary.LittleEndian.Uint16(body[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
			if _, err := r.Seek(offset+size+size%2, io.SeekStart); err != nil {
				return WAVInfo{}, err
			}
		case "data":
			if !haveFmt {
				return WAVInfo{}, fmt.Errorf("%w: data before fmt", errNotWAV)
			}
			info.DataOffset = offset
			info.DataSize = size
			return info, nil
		default:
			if _, err := r.Seek(offset+size+size%2, io.SeekStart); err != nil {
				return WAVInfo{}, err
			}
		}
		offset += size + size%2
	}
}

// SplitChannels writes one mono 16-bit file per channel of the WAV at src
// into dir, named <stem>_<n>.wav with n starting at 1. It returns the paths in
// channel order.
func SplitChannels(src, dir, stem string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := parseWAV(f)
	if err != nil {
		return nil, err
	}
	if !info.Supported() {
		return nil, fmt.Errorf("split %s: unsupported format %d/%d bit", src, info.Format, info.BitsPerSample)
	}
	if _, err := f.Seek(info.DataOffset, io.SeekStart); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	channels := int(info.Channels)
	frameSize := channels * 2
	frames := info.DataSize / int64(frameSize)

	paths := make([]string, channels)
	outs := make([]*os.File, channels)
	writers := make([]*bufio.Writer, channels)
	defer func() {
		for _, out := range outs {
			if out != nil {
				out.Close()
			}
		}
	}()
	for i := range channels {
		paths[i] = filepath.Join(dir, fmt.Sprintf("%s_%d.wav", stem, i+1))
		out, err := os.Create(paths[i])
		if err != nil {
			return nil, err
		}
		outs[i] = out
		writers[i] = bufio.NewWriter(out)
		if err := writeMonoHeader(writers[i], info.SampleRate, frames*2); err != nil {
			return nil, err
		}
	}

	reader := bufio.NewReader(io.LimitReader(f, frames*int64(frameSize)))
	frame := make([]byte, frameSize)
	for n := int64(0); n < frames; n++ {
		if _, err := io.ReadFull(reader, frame); err != nil {
			return nil, fmt.Errorf("split %s: truncated data: %w", src, err)
		}
		for ch := range channels {
			if _, err := writers[ch].Write(frame[ch*2 : ch*2+2]); err != nil {
				return nil, err
			}
		}
	}

	for i, w := range writers {
		if err := w.Flush(); err != nil {
			return nil, err
		}
		if err := outs[i].Close(); err != nil {
			return nil, err
		}
		outs[i] = nil
	}
	return paths, nil
}

func writeMonoHeader(w io.Writer, sampleRate uint32, dataSize int64) error {
	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(header[22:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], sampleRate*2)
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))
	_, err := w.Write(header)
	return err
}
