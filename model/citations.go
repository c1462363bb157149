package model

import "encoding/json"

// Source type discriminator values carried on the wire.
const (
	SourceTypeWeb     = "web"
	SourceTypeLibrary = "library"
)

// Citation is a source attribution attached to an assistant message. It is a
// discriminated union over the source kind: either a web result or a library
// document, distinguished by the source_type field on the wire.
type Citation interface {
	// ID returns the citation identifier referenced by inline markers
	// (e.g. "lib-3").
	ID() string

	// Kind returns the source_type discriminator.
	Kind() string
}

// Anchor references a specific span inside a library document: page/line/char
// locators (at least one populated) plus the quoted excerpt. The first anchor
// of a citation is the default display target.
type Anchor struct {
	AnchorID  string    `json:"anchor_id"`
	Page      *int      `json:"page"`
	LineStart *int      `json:"line_start"`
	LineEnd   *int      `json:"line_end"`
	StartChar int       `json:"start_char"`
	EndChar   int       `json:"end_char"`
	Bbox      []float64 `json:"bbox,omitempty"`
	Quote     string    `json:"quote"`
}

// WebCitation is a citation backed by a web search result.
type WebCitation struct {
	CitationID string `json:"citation_id"`
	SourceType string `json:"source_type"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	URL        string `json:"url"`
}

func (c WebCitation) ID() string   { return c.CitationID }
func (c WebCitation) Kind() string { return SourceTypeWeb }

// LibraryCitation is a citation backed by a document in the user's library.
// Anchors are ordered as produced by retrieval.
type LibraryCitation struct {
	CitationID string   `json:"citation_id"`
	SourceType string   `json:"source_type"`
	Title      string   `json:"title"`
	Snippet    string   `json:"snippet"`
	FileID     int      `json:"file_id"`
	FileName   string   `json:"file_name"`
	Anchors    []Anchor `json:"anchors"`
}

func (c LibraryCitation) ID() string   { return c.CitationID }
func (c LibraryCitation) Kind() string { return SourceTypeLibrary }

// DecodeCitation decodes a single wire citation by its source_type.
// Unknown or malformed entries yield (nil, false) rather than an error so a
// single bad source never poisons a whole payload.
func DecodeCitation(raw json.RawMessage) (Citation, bool) {
	var head struct {
		SourceType string `json:"source_type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, false
	}

	switch head.SourceType {
	case SourceTypeWeb:
		var c WebCitation
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, false
		}
		return c, true
	case SourceTypeLibrary:
		var c LibraryCitation
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, false
		}
		return c, true
	default:
		return nil, false
	}
}

// DecodeCitations decodes a wire citation list, dropping entries that fail to
// decode.
func DecodeCitations(raws []json.RawMessage) []Citation {
	var out []Citation
	for _, raw := range raws {
		if c, ok := DecodeCitation(raw); ok {
			out = append(out, c)
		}
	}
	return out
}
