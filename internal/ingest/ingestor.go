package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"speechflow/internal/logging"
	"speechflow/internal/pipeline"
	"speechflow/internal/registry"
)

// Options wires an Ingestor to the scheduler state it reads and mutates.
type Options struct {
	// WorkDir receives the channel files of split recordings.
	WorkDir     string
	Registry    *registry.Registry
	Template    *pipeline.Template
	PipelineIDs *pipeline.IDGenerator
	StageIDs    *pipeline.IDGenerator
	// Defaults returns the language code and ASR provider for new pipelines.
	Defaults func() (string, string)
	Split    *SplitPrompt
	// Owner runs fn on the goroutine that owns the registry and waits for it.
	// Nil runs fn directly.
	Owner  func(fn func())
	Now    func() time.Time
	Logger *slog.Logger
}

// Ingestor turns queue items into pipelines and groups.
type Ingestor struct {
	opts   Options
	logger *slog.Logger
}

// New builds an Ingestor.
func New(opts Options) *Ingestor {
	if opts.Split == nil {
		opts.Split = NewSplitPrompt(SplitPending, nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Defaults == nil {
		opts.Defaults = func() (string, string) { return "", "" }
	}
	return &Ingestor{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "ingest")}
}

// Split exposes the split prompt.
func (in *Ingestor) Split() *SplitPrompt { return in.opts.Split }

func (in *Ingestor) owner(fn func()) {
	if in.opts.Owner == nil {
		fn()
		return
	}
	in.opts.Owner(fn)
}

// preparedFile is a validated file ready to become part of a pipeline.
type preparedFile struct {
	ref   pipeline.FileRef
	class FileClass
}

// Process validates item and builds the entries it produces. File IO runs on
// the caller's goroutine; registry lookups and pipeline construction run
// through Owner.
func (in *Ingestor) Process(ctx context.Context, item Item) ([]pipeline.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(item.Path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", item.Path, err)
	}
	name := item.Name
	if name == "" {
		name = filepath.Base(item.Path)
	}
	if info.IsDir() {
		return in.processDir(ctx, item.Path, item.Parent+strings.TrimSuffix(name, "/")+"/", item.Attributes)
	}
	return in.processFile(ctx, item.Path, name, item.Parent, item.Attributes)
}

func (in *Ingestor) processFile(ctx context.Context, path, name, parent string, attrs map[string]string) ([]pipeline.Entry, error) {
	class, wav, err := Classify(path, name)
	if err != nil {
		return nil, err
	}
	if class == ClassAudio && wav.Channels > 1 {
		return in.splitRecording(ctx, path, name, parent, attrs, int(wav.Channels))
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	ref := pipeline.FileRef{
		FullName:   pipeline.EscapeFileName(name),
		Size:       stat.Size(),
		Type:       contentType(path, class),
		Attributes: make(map[string]string, len(attrs)+1),
		CreatedAt:  in.opts.Now().UnixMilli(),
		Path:       path,
	}
	for k, v := range attrs {
		ref.Attributes[k] = v
	}
	ref.Attributes[pipeline.AttrOriginalFileName] = name
	if class == ClassTranscript {
		if ref.Content, err = readContent(path); err != nil {
			return nil, err
		}
	}

	var entries []pipeline.Entry
	in.owner(func() {
		if in.mergeDuplicate(ref, class) {
			return
		}
		if class == ClassTranscript && parent == "" && in.attachToRegistered(ref) {
			return
		}
		entries = []pipeline.Entry{in.newPipeline(ref)}
	})
	return entries, nil
}

// splitRecording writes one file per kept channel and processes them as a
// synthetic <stem>_dir/ directory. A single kept channel is processed as a
// plain file.
func (in *Ingestor) splitRecording(ctx context.Context, path, name, parent string, attrs map[string]string, channels int) ([]pipeline.Entry, error) {
	stem, _, err := pipeline.SplitName(name)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(in.opts.WorkDir, pipeline.EscapeFileName(stem)+"_dir")
	paths, err := SplitChannels(path, dir, pipeline.EscapeFileName(stem))
	if err != nil {
		return nil, err
	}
	keep := in.opts.Split.keep(channels)
	in.logger.Info("split multi-channel recording",
		logging.String("file", name),
		logging.Int("channels", channels),
		logging.Int("kept", len(keep)),
		logging.String("split", string(in.opts.Split.Choice())),
	)

	if len(keep) == 1 {
		idx := keep[0]
		return in.processFile(ctx, paths[idx], fmt.Sprintf("%s_%d.wav", stem, idx+1), parent, attrs)
	}
	files := make([]string, 0, len(keep))
	names := make([]string, 0, len(keep))
	for _, idx := range keep {
		files = append(files, paths[idx])
		names = append(names, fmt.Sprintf("%s_%d.wav", stem, idx+1))
	}
	return in.processFiles(ctx, files, names, parent+stem+"_dir/", attrs, nil)
}

func (in *Ingestor) processDir(ctx context.Context, dir, groupPath string, attrs map[string]string) ([]pipeline.Entry, error) {
	listing, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files, names, subdirs []string
	for _, entry := range listing {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			subdirs = append(subdirs, full)
			continue
		}
		files = append(files, full)
		names = append(names, entry.Name())
	}
	return in.processFiles(ctx, files, names, groupPath, attrs, subdirs)
}

// processFiles processes every file of a directory and collects the
// resulting pipelines into one group. Child groups with a single pipeline
// are flattened into it; larger child groups are returned alongside.
func (in *Ingestor) processFiles(ctx context.Context, files, names []string, groupPath string, attrs map[string]string, subdirs []string) ([]pipeline.Entry, error) {
	var produced []pipeline.Entry
	var errs []error
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := in.processFile(ctx, path, names[i], groupPath, attrs)
		if err != nil {
			in.logger.Warn("skipping file in directory",
				logging.String("file", names[i]),
				logging.String("group", groupPath),
				logging.Error(err),
				logging.String(logging.FieldEventType, "ingest_file_rejected"),
				logging.String(logging.FieldErrorHint, InvalidFileMessage),
			)
			errs = append(errs, err)
			continue
		}
		produced = append(produced, entries...)
	}
	for _, sub := range subdirs {
		entries, err := in.processDir(ctx, sub, groupPath+filepath.Base(sub)+"/", attrs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		produced = append(produced, entries...)
	}

	var result []pipeline.Entry
	in.owner(func() {
		var content []*pipeline.Pipeline
		var extra []pipeline.Entry
		for _, entry := range produced {
			switch e := entry.(type) {
			case *pipeline.Pipeline:
				content = append(content, e)
			case *pipeline.Group:
				if e.Len() == 1 {
					child := e.Entries()[0]
					e.Remove(child)
					content = append(content, child)
				} else {
					extra = append(extra, e)
				}
			}
		}
		content = in.attachUnpaired(pairTranscripts(content))
		switch len(content) {
		case 0:
		case 1:
			result = append(result, content[0])
		default:
			group := pipeline.NewGroup(in.opts.PipelineIDs.Next(), groupPath)
			for _, p := range content {
				group.Add(p)
			}
			result = append(result, group)
		}
		result = append(result, extra...)
	})

	if len(result) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return result, nil
}

// pairTranscripts merges pipelines of one directory whose first files share
// a stem and are not both audio. Audio stays first.
func pairTranscripts(content []*pipeline.Pipeline) []*pipeline.Pipeline {
	out := make([]*pipeline.Pipeline, 0, len(content))
	merged := make(map[int]bool)
	for j, base := range content {
		if merged[j] {
			continue
		}
		baseFile, _ := base.File(0)
		for v := j + 1; v < len(content); v++ {
			if merged[v] || len(base.Files()) > 1 {
				continue
			}
			other, _ := content[v].File(0)
			if transcriptStem(other.FullName) != transcriptStem(baseFile.FullName) {
				continue
			}
			if baseFile.IsWAV() == other.IsWAV() {
				continue
			}
			if baseFile.IsWAV() {
				base.AttachTranscript(other)
			} else {
				_ = base.SetFile(0, other)
				base.AttachTranscript(baseFile)
				baseFile = other
			}
			merged[v] = true
		}
		out = append(out, base)
	}
	return out
}

// mergeDuplicate replaces the file of an existing pipeline that holds the
// same name and size. It reports whether the file was merged.
func (in *Ingestor) mergeDuplicate(ref pipeline.FileRef, class FileClass) bool {
	if in.opts.Registry == nil {
		return false
	}
	dup, idx := FindDuplicate(in.opts.Registry.Pipelines(), Key(ref.OriginalName(), ref.Size))
	if dup == nil {
		return false
	}
	if class == ClassTranscript && len(dup.Files()) > 1 {
		idx = 1
	}
	if err := dup.SetFile(idx, ref); err != nil {
		return false
	}
	in.logger.Info("file matches existing pipeline",
		logging.PipelineID(dup.ID()),
		logging.String("file", ref.FullName),
	)
	in.notifyChanged(dup)
	return true
}

// attachToRegistered appends a transcript to a QUEUED or PENDING pipeline
// that only holds the matching audio file.
func (in *Ingestor) attachToRegistered(ref pipeline.FileRef) bool {
	if in.opts.Registry == nil {
		return false
	}
	stem := transcriptStem(ref.FullName)
	for _, p := range in.opts.Registry.Pipelines() {
		if p.State() != pipeline.StateQueued && p.State() != pipeline.StatePending {
			continue
		}
		if !p.HasOnlyAudio() {
			continue
		}
		audio, _ := p.File(0)
		if audio.Name() != stem {
			continue
		}
		p.AttachTranscript(ref)
		in.logger.Info("attached transcript",
			logging.PipelineID(p.ID()),
			logging.String("file", ref.FullName),
		)
		in.notifyChanged(p)
		return true
	}
	return false
}

// attachUnpaired hands transcripts that found no audio sibling in their
// directory to a matching audio-only pipeline already in the registry.
func (in *Ingestor) attachUnpaired(content []*pipeline.Pipeline) []*pipeline.Pipeline {
	out := content[:0]
	for _, p := range content {
		if file, ok := p.File(0); ok && len(p.Files()) == 1 && IsTranscriptName(file.FullName) && in.attachToRegistered(file) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (in *Ingestor) notifyChanged(p *pipeline.Pipeline) {
	if top, ok := in.opts.Registry.TopLevel(p.ID()); ok {
		in.opts.Registry.NotifyChanged(top, true)
	}
}

func (in *Ingestor) newPipeline(ref pipeline.FileRef) *pipeline.Pipeline {
	lang, provider := in.opts.Defaults()
	p := pipeline.New(in.opts.PipelineIDs.Next(), in.opts.Template, in.opts.StageIDs, lang, provider)
	p.AddFile(ref)
	p.ChangeState(pipeline.StateQueued)
	return p
}
