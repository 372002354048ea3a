package ingest

import (
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"speechflow/internal/pipeline"
	"speechflow/internal/services"
)

// InvalidFileMessage is reported for files that are neither supported audio
// nor a transcript.
const InvalidFileMessage = "Only Wave (*.wav) files with 16 Bit signed Int are supported."

// FileClass is the outcome of classifying a submitted file.
type FileClass int

const (
	ClassAudio FileClass = iota + 1
	ClassTranscript
)

var transcriptSuffixes = []string{"_annot.json", ".par", ".textgrid", ".txt", ".srt", ".json", ".eaf", ".ctm"}

// IsTranscriptName reports whether name carries a known transcript extension.
func IsTranscriptName(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range transcriptSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// IsCandidateName reports whether a watcher should pick up name.
func IsCandidateName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".wav") || IsTranscriptName(name)
}

// Classify inspects the file at path. Audio must be RIFF/WAVE 16-bit PCM.
// Transcripts need a known extension and textual content.
func Classify(path, name string) (FileClass, WAVInfo, error) {
	info, err := ReadWAVInfo(path)
	if err == nil && info.Supported() {
		return ClassAudio, info, nil
	}
	if IsTranscriptName(name) && isTextual(path) {
		return ClassTranscript, WAVInfo{}, nil
	}
	return 0, WAVInfo{}, services.Wrap(services.ErrValidation, "ingest", "classify",
		fmt.Sprintf("the audio file '%s' is invalid. %s", name, InvalidFileMessage), nil)
}

func isTextual(path string) bool {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// contentType returns the detected MIME type or a fallback for audio.
func contentType(path string, class FileClass) string {
	if class == ClassAudio {
		return "audio/wav"
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "text/plain"
	}
	return mt.String()
}

// transcriptStem returns the stem used to pair a transcript with audio.
func transcriptStem(fullname string) string {
	stem, _, err := pipeline.SplitName(fullname)
	if err != nil {
		stem = fullname
	}
	return strings.TrimSuffix(stem, "_annot")
}

func readContent(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
