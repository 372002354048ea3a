package ingest

import (
	"fmt"
	"strings"
	"sync"
)

// SplitChoice is the operator's answer for multi-channel recordings.
type SplitChoice string

const (
	SplitPending SplitChoice = "PENDING"
	SplitAsked   SplitChoice = "ASKED"
	SplitFirst   SplitChoice = "FIRST"
	SplitSecond  SplitChoice = "SECOND"
	SplitBoth    SplitChoice = "BOTH"
)

// ParseSplitChoice accepts the config spellings (ask, first, second, both)
// and the state names.
func ParseSplitChoice(value string) (SplitChoice, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", "ASK", string(SplitPending):
		return SplitPending, nil
	case string(SplitAsked):
		return SplitAsked, nil
	case string(SplitFirst):
		return SplitFirst, nil
	case string(SplitSecond):
		return SplitSecond, nil
	case string(SplitBoth):
		return SplitBoth, nil
	default:
		return "", fmt.Errorf("unknown split choice %q", value)
	}
}

// SplitPrompt tracks the split answer. It is shared between the ingest
// worker and API handlers.
type SplitPrompt struct {
	mu     sync.Mutex
	choice SplitChoice
	onAsk  func()
}

// NewSplitPrompt starts at initial. onAsk runs the first time a split needs
// an answer; it may be nil.
func NewSplitPrompt(initial SplitChoice, onAsk func()) *SplitPrompt {
	return &SplitPrompt{choice: initial, onAsk: onAsk}
}

// Choice returns the current value.
func (s *SplitPrompt) Choice() SplitChoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.choice
}

// Set records the operator's answer.
func (s *SplitPrompt) Set(choice SplitChoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.choice = choice
}

// keep returns the zero-based channel indexes to keep for a recording with
// channels channels. A PENDING prompt moves to ASKED and keeps everything.
func (s *SplitPrompt) keep(channels int) []int {
	s.mu.Lock()
	choice := s.choice
	var ask func()
	if choice == SplitPending {
		s.choice = SplitAsked
		ask = s.onAsk
	}
	s.mu.Unlock()
	if ask != nil {
		ask()
	}

	// FIRST drops only the second channel and SECOND only the first, the
	// same rule CheckFiles applies to queued _dir groups.
	drop := -1
	switch choice {
	case SplitFirst:
		drop = 1
	case SplitSecond:
		if channels > 1 {
			drop = 0
		}
	}
	kept := make([]int, 0, channels)
	for i := 0; i < channels; i++ {
		if i != drop {
			kept = append(kept, i)
		}
	}
	return kept
}
