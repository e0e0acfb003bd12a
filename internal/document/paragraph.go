// Package document owns the authoritative, versioned model of one document:
// its ordered paragraphs, the issues attached to them, bounded snapshot
// history, and atomic multi-step transactions. All mutation goes through the
// State API; no other component holds a mutable reference into the arena.
package document

import "time"

// Run is one inline span of a paragraph with its own formatting.
type Run struct {
	Text      string  `json:"text"`
	Bold      bool    `json:"bold,omitempty"`
	Italic    bool    `json:"italic,omitempty"`
	Underline bool    `json:"underline,omitempty"`
	Font      string  `json:"font,omitempty"`
	SizePt    float64 `json:"sizePt,omitempty"`
}

// Formatting holds paragraph-level layout attributes.
type Formatting struct {
	Alignment   string  `json:"alignment,omitempty"`
	LineSpacing float64 `json:"lineSpacing,omitempty"`
	IndentFirst float64 `json:"indentFirst,omitempty"`
	IndentLeft  float64 `json:"indentLeft,omitempty"`
	SpaceBefore float64 `json:"spaceBefore,omitempty"`
	SpaceAfter  float64 `json:"spaceAfter,omitempty"`
}

// Paragraph is the unit of tracked content. IDs are assigned at creation and
// never reused; Index is the current position and changes on reorder.
// ChangeSeq increments on every real mutation.
type Paragraph struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	Runs         []Run      `json:"runs,omitempty"`
	Formatting   Formatting `json:"formatting"`
	Index        int        `json:"index"`
	ChangeSeq    int        `json:"changeSeq"`
	LastModified time.Time  `json:"lastModified"`
}

func cloneParagraph(p *Paragraph) *Paragraph {
	out := *p
	if p.Runs != nil {
		out.Runs = make([]Run, len(p.Runs))
		copy(out.Runs, p.Runs)
	}
	return &out
}

func runsEqual(a, b []Run) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ParagraphUpdate carries a partial edit. Nil fields are left untouched.
type ParagraphUpdate struct {
	Text       *string     `json:"text,omitempty"`
	Runs       []Run       `json:"runs,omitempty"`
	Formatting *Formatting `json:"formatting,omitempty"`
}
