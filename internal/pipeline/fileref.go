package pipeline

import (
	"errors"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// AttrOriginalFileName is the attribute key carrying the name a file had
// before it was escaped or split.
const AttrOriginalFileName = "originalFileName"

// ErrNoExtension is returned when a file name carries no extension.
var ErrNoExtension = errors.New("file name must contain an extension")

// FileRef references an input file or a stage result.
type FileRef struct {
	FullName   string            `json:"fullname"`
	Size       int64             `json:"size"`
	Type       string            `json:"type"`
	URL        string            `json:"url"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
	Content    string            `json:"content,omitempty"`
	// Path points at a local copy on the daemon host.
	Path string `json:"path,omitempty"`

	// Online is set once URL is known to resolve. It is never persisted.
	Online bool `json:"-"`
}

// FileRefFromURL builds a result reference for a remote file. When name is
// non-empty the result is named name plus the URL's extension, otherwise the
// last path segment of the URL is used.
func FileRefFromURL(rawURL, name, fileType string, createdAt int64) FileRef {
	var fullname string
	if name != "" {
		fullname = name + "." + rawURL[strings.LastIndex(rawURL, ".")+1:]
	} else {
		fullname = rawURL[strings.LastIndex(rawURL, "/")+1:]
	}
	return FileRef{
		FullName:   fullname,
		Type:       fileType,
		URL:        rawURL,
		Attributes: map[string]string{},
		CreatedAt:  createdAt,
		Online:     true,
	}
}

// SplitName separates a file name into stem and extension (including the
// dot). Any directory prefix is discarded.
func SplitName(fullname string) (string, string, error) {
	if idx := strings.LastIndexAny(fullname, "/\\"); idx > -1 {
		fullname = fullname[idx+1:]
	}
	dot := strings.LastIndex(fullname, ".")
	if dot < 0 {
		return "", "", ErrNoExtension
	}
	return fullname[:dot], fullname[dot:], nil
}

var unsafeFileChars = regexp.MustCompile(`[\s/?!%*()\[\]{}&:=+#'<>^;,Ââ°]`)

// EscapeFileName replaces characters providers reject with underscores.
func EscapeFileName(name string) string {
	return unsafeFileChars.ReplaceAllString(name, "_")
}

// Name returns the stem of the file name.
func (f FileRef) Name() string {
	stem, _, err := SplitName(f.FullName)
	if err != nil {
		return f.FullName
	}
	return stem
}

// Extension returns the extension including the dot, or "".
func (f FileRef) Extension() string {
	_, ext, err := SplitName(f.FullName)
	if err != nil {
		return ""
	}
	return ext
}

// IsWAV reports whether the file carries a .wav extension.
func (f FileRef) IsWAV() bool {
	return strings.EqualFold(f.Extension(), ".wav")
}

// OriginalName returns the pre-escape name, falling back to FullName.
func (f FileRef) OriginalName() string {
	if name := f.Attributes[AttrOriginalFileName]; name != "" {
		return name
	}
	return f.FullName
}

// Local reports whether the daemon holds a readable copy of the file.
func (f FileRef) Local() bool {
	if f.Path == "" {
		return false
	}
	info, err := os.Stat(f.Path)
	return err == nil && !info.IsDir()
}

// Available reports whether the file can be processed.
func (f FileRef) Available() bool {
	return f.Online || f.Local()
}

// Host returns the URL host, used in logs.
func (f FileRef) Host() string {
	parsed, err := url.Parse(f.URL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// Clone returns a deep copy.
func (f FileRef) Clone() FileRef {
	out := f
	if f.Attributes != nil {
		out.Attributes = make(map[string]string, len(f.Attributes))
		for k, v := range f.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}
