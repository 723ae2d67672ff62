package vo

import "time"

// SectionRule recognizes the header of one newsletter section.
// Rules are evaluated in declaration order; the first match wins.
type SectionRule struct {
	ID       string   `json:"id" yaml:"id"`
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"` // substrings of the header text
	Exact    []string `json:"exact,omitempty" yaml:"exact,omitempty"`       // whole header text, checked before any substring
}

// ContentMap maps a section id to its sanitized markup.
type ContentMap map[string]string

type State string

const (
	StateLoading State = "loading"
	StateError   State = "error"
	StateReady   State = "ready"
)

// Snapshot is the complete, immutable result of the latest ingestion pass.
type Snapshot struct {
	State       State      `json:"state"`
	Error       string     `json:"error,omitempty"`
	Title       string     `json:"title,omitempty"`       // title of the source document
	Content     ContentMap `json:"content,omitempty"`     // sanitized markup per section
	Unavailable []string   `json:"unavailable,omitempty"` // sections that failed sanitization
	Degenerate  bool       `json:"degenerate,omitempty"`  // no header recognized, every section holds the whole document
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// SectionIDs returns the ids present in the snapshot in rule order.
func (s *Snapshot) SectionIDs(rules []SectionRule) []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Content))
	for _, rule := range rules {
		if _, ok := s.Content[rule.ID]; ok {
			ids = append(ids, rule.ID)
		}
	}
	return ids
}
