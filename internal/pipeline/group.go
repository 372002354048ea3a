package pipeline

// Group holds pipelines that came from one submission: the channels of a
// split recording or the files of a folder.
type Group struct {
	id      int64
	path    string
	entries []*Pipeline
}

// NewGroup creates an empty group.
func NewGroup(id int64, path string) *Group {
	return &Group{id: id, path: path}
}

func (g *Group) entry() {}

func (g *Group) ID() int64 { return g.id }

// Path is the directory path or the synthetic "<stem>_dir/" of a split.
func (g *Group) Path() string { return g.path }

// Entries returns the children in order.
func (g *Group) Entries() []*Pipeline {
	out := make([]*Pipeline, len(g.entries))
	copy(out, g.entries)
	return out
}

func (g *Group) Len() int { return len(g.entries) }

// Add appends p and records g as its group.
func (g *Group) Add(p *Pipeline) {
	p.group = g
	g.entries = append(g.entries, p)
}

// Remove detaches p from the group. It reports whether p was a child.
func (g *Group) Remove(p *Pipeline) bool {
	for i, child := range g.entries {
		if child.id == p.id {
			g.entries = append(g.entries[:i], g.entries[i+1:]...)
			if p.group == g {
				p.group = nil
			}
			return true
		}
	}
	return false
}

// IndexOf returns the position of the child with id, or -1.
func (g *Group) IndexOf(id int64) int {
	for i, child := range g.entries {
		if child.id == id {
			return i
		}
	}
	return -1
}

// Detach clears the group back-reference of p without touching the child
// list. It is used when a dissolved group promotes its last child.
func Detach(p *Pipeline) {
	p.group = nil
}
