package pipeline

import (
	"net/url"
	"strings"
)

// encodeComponent escapes a value the way browsers encode URI components.
func encodeComponent(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

// uploadedWAV returns the uploaded audio of the stage's pipeline.
func (s *Stage) uploadedWAV() *FileRef {
	p := s.Pipeline()
	if p == nil {
		return nil
	}
	upload := p.StageOfKind(KindUpload)
	if upload == nil {
		return nil
	}
	for i := range upload.results {
		if upload.results[i].IsWAV() && upload.results[i].URL != "" {
			wav := upload.results[i].Clone()
			return &wav
		}
	}
	return nil
}

// ToolURL composes the embedded tool URL for an interactive stage. It
// returns "" until the pipeline audio has been uploaded.
func (s *Stage) ToolURL(toolBase string, lang Language) string {
	wav := s.uploadedWAV()
	if wav == nil || toolBase == "" {
		return ""
	}
	switch s.kind {
	case KindManualTranscription:
		return s.transcriptionToolURL(toolBase, wav.URL, lang)
	case KindPhoneticDetail:
		return s.phoneticToolURL(toolBase, wav.URL)
	default:
		return ""
	}
}

func (s *Stage) transcriptionToolURL(toolBase, wavURL string, lang Language) string {
	if lang.Host == "" {
		return ""
	}
	params := []string{"audio=" + encodeComponent(wavURL)}
	if transcript := s.bestTranscript(); transcript != "" {
		params = append(params, "transcript="+encodeComponent(transcript))
	}
	params = append(params, "host="+encodeComponent(lang.Host), "embedded=1")
	return strings.TrimRight(toolBase, "/") + "/user/load?" + strings.Join(params, "&")
}

// bestTranscript prefers the stage's own result, then the previous stage's,
// then the one before that when it produced more than one result.
func (s *Stage) bestTranscript() string {
	if last := s.LastResult(); last != nil {
		return last.URL
	}
	prev := s.Previous()
	if prev == nil {
		return ""
	}
	if last := prev.LastResult(); last != nil {
		return last.URL
	}
	if before := prev.Previous(); before != nil && len(before.results) > 1 {
		return before.LastResult().URL
	}
	return ""
}

func (s *Stage) phoneticToolURL(toolBase, wavURL string) string {
	var label *FileRef
	for prev := s.Previous(); prev != nil; prev = prev.Previous() {
		if prev.kind == KindForcedAlignment {
			label = prev.LastResult()
			break
		}
	}
	if label == nil {
		return ""
	}
	return toolBase + "?audioGetUrl=" + encodeComponent(wavURL) +
		"&labelGetUrl=" + encodeComponent(label.URL) +
		"&labelType=annotJSON"
}
