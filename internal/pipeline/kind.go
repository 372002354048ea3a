package pipeline

import "fmt"

// Kind identifies what a stage does. Behaviour that differs per kind lives in
// a Runner registered for it, not in the stage itself.
type Kind int

const (
	KindUpload Kind = iota
	KindASR
	KindManualTranscription
	KindForcedAlignment
	KindPhoneticDetail
)

type kindInfo struct {
	name        string
	title       string
	shortTitle  string
	resultType  string
	interactive bool
}

var kindTable = map[Kind]kindInfo{
	KindUpload:              {name: "Upload", title: "Upload", shortTitle: "UL", resultType: "audio/wav"},
	KindASR:                 {name: "ASR", title: "Speech Recognition", shortTitle: "ASR", resultType: "BAS Partitur Format"},
	KindManualTranscription: {name: "OCTRA", title: "Manual Transcription", shortTitle: "MT", resultType: "BAS Partitur Format", interactive: true},
	KindForcedAlignment:     {name: "MAUS", title: "Word alignment", shortTitle: "WA", resultType: "emuDB"},
	KindPhoneticDetail:      {name: "Emu WebApp", title: "Phonetic detail", shortTitle: "PD", resultType: "emuDB", interactive: true},
}

// Kinds returns every known kind in default chain order.
func Kinds() []Kind {
	return []Kind{KindUpload, KindASR, KindManualTranscription, KindForcedAlignment, KindPhoneticDetail}
}

// KindByName resolves the persisted stage name.
func KindByName(name string) (Kind, bool) {
	for kind, info := range kindTable {
		if info.name == name {
			return kind, true
		}
	}
	return 0, false
}

// Name is the persisted identifier of the kind.
func (k Kind) Name() string { return k.info().name }

func (k Kind) Title() string { return k.info().title }

func (k Kind) ShortTitle() string { return k.info().shortTitle }

func (k Kind) ResultType() string { return k.info().resultType }

// Interactive kinds are completed by an operator in an external tool and are
// never started by the scheduler on their own.
func (k Kind) Interactive() bool { return k.info().interactive }

func (k Kind) String() string {
	if info, ok := kindTable[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Slug is a lowercase identifier used in logs, metrics and notifications.
func (k Kind) Slug() string {
	switch k {
	case KindUpload:
		return "upload"
	case KindASR:
		return "asr"
	case KindManualTranscription:
		return "manual_transcription"
	case KindForcedAlignment:
		return "forced_alignment"
	case KindPhoneticDetail:
		return "phonetic_detail"
	default:
		return "unknown"
	}
}

func (k Kind) info() kindInfo {
	return kindTable[k]
}
