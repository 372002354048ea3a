package testsupport

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// WAVSpec describes a synthetic WAV file.
type WAVSpec struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
	Format        int
	Frames        int
}

// WriteWAV writes a WAV file whose sample n of channel c holds the value
// c*1000+n, so split output can be checked per channel. Zero fields default
// to mono 16 kHz 16-bit PCM with 16 frames.
func WriteWAV(t testing.TB, path string, spec WAVSpec) {
	t.Helper()

	if spec.Channels <= 0 {
		spec.Channels = 1
	}
	if spec.SampleRate <= 0 {
		spec.SampleRate = 16000
	}
	if spec.BitsPerSample <= 0 {
		spec.BitsPerSample = 16
	}
	if spec.Format <= 0 {
		spec.Format = 1
	}
	if spec.Frames <= 0 {
		spec.Frames = 16
	}

	bytesPerSample := spec.BitsPerSample / 8
	blockAlign := spec.Channels * bytesPerSample
	dataSize := spec.Frames * blockAlign

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], uint16(spec.Format))
	binary.LittleEndian.PutUint16(buf[22:24], uint16(spec.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(spec.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(spec.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(spec.BitsPerSample))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	offset := 44
	for n := 0; n < spec.Frames; n++ {
		for c := 0; c < spec.Channels; c++ {
			value := uint32(c*1000 + n)
			for b := 0; b < bytesPerSample; b++ {
				buf[offset] = byte(value >> (8 * b))
				offset++
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteText writes content to path, creating parent directories.
func WriteText(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
