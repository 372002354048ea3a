package pipeline

import "fmt"

// Toggle sets the template flag at position and propagates the template to
// the PENDING stages of every QUEUED pipeline in queued. Disabling a stage
// that would leave it and its required partner both disabled force-enables
// the partner. The upload stage cannot be disabled. The positions that were
// forced on are returned.
func (t *Template) Toggle(position int, enabled bool, queued []*Pipeline) ([]int, error) {
	if position < 0 || position >= len(t.stages) {
		return nil, fmt.Errorf("stage position %d out of range (0-%d)", position, len(t.stages)-1)
	}

	var forced []int
	slot := &t.stages[position]
	if slot.Kind == KindUpload && !enabled {
		slot.Enabled = true
		forced = append(forced, position)
	} else {
		slot.Enabled = enabled
	}

	if !slot.Enabled {
		if partner := t.partner(position); partner >= 0 && !t.stages[partner].Enabled {
			t.stages[partner].Enabled = true
			forced = append(forced, partner)
		}
	}

	t.Apply(queued)
	return forced, nil
}

// partner returns the position that must stay enabled when position is
// disabled, or -1.
func (t *Template) partner(position int) int {
	switch t.stages[position].Kind {
	case KindManualTranscription:
		if position > 0 && t.stages[position-1].Kind == KindASR {
			return position - 1
		}
	case KindASR:
		if position+1 < len(t.stages) && t.stages[position+1].Kind == KindManualTranscription {
			return position + 1
		}
	}
	return -1
}

// Apply copies every template flag onto the matching PENDING stages of the
// QUEUED pipelines in queued.
func (t *Template) Apply(queued []*Pipeline) {
	for _, p := range queued {
		if p.state != StateQueued {
			continue
		}
		t.ApplyTo(p)
	}
}

// ApplyTo copies the template flags onto the PENDING stages of p.
func (t *Template) ApplyTo(p *Pipeline) {
	for i, st := range p.stages {
		if i >= len(t.stages) {
			break
		}
		if st.state == StatePending {
			st.SetEnabled(t.stages[i].Enabled)
		}
	}
}

// SetEnabled sets a template flag without propagation. Used when restoring
// persisted settings.
func (t *Template) SetEnabled(position int, enabled bool) {
	if position < 0 || position >= len(t.stages) {
		return
	}
	if t.stages[position].Kind == KindUpload {
		enabled = true
	}
	t.stages[position].Enabled = enabled
}
