package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Fallback source extraction. When a turn completes without authoritative
// sources in the done payload, citations are reconstructed from raw tool
// output: retrieval tools emit blocks of the form
//
//	[Source 3: document_id=15 (page 2)]
//	"quoted excerpt ..."
//
// and the assistant references them inline as [cite:3], [출처:3], \[source:3\]
// and similar. Resolution matches the two up and synthesizes library
// citations.

const (
	snippetMaxRunes = 120
	quoteMaxRunes   = 240
)

// sourceBlockPattern matches one retrieval source marker. The page locator is
// optional.
var sourceBlockPattern = regexp.MustCompile(`(?i)\[Source\s+(\d+):\s*document_id=(\d+)(?:\s*\(page\s+(\d+)\))?\]`)

// citationMarkerPattern matches inline citation markers in assistant text:
// an optional backslash escape around the brackets, a short label, a half- or
// full-width colon, and a source index.
var citationMarkerPattern = regexp.MustCompile(`(?i)\\?\[\s*([^\[\]:：]{1,20})\s*[:：]\s*(\d+)\s*\\?\]`)

// citationLabels are the labels accepted verbatim (after lowercasing and
// whitespace removal). Labels merely containing "cite" or "source" are also
// accepted.
var citationLabels = map[string]struct{}{
	"cite":     {},
	"citation": {},
	"source":   {},
	"src":      {},
	"출처":       {},
	"인용":       {},
	"시민투입":     {},
}

// SourceBlock is one parsed tool-output source marker plus its trailing quote.
type SourceBlock struct {
	Index      int
	DocumentID int
	Page       *int
	Quote      string
}

// HasSourceMarkers reports whether text contains the source-marker grammar.
// Used to decide which pieces of tool output are worth accumulating.
func HasSourceMarkers(text string) bool {
	return sourceBlockPattern.MatchString(text)
}

// ParseToolSources extracts source blocks from raw tool output. Each block's
// quote runs from the end of its marker to the start of the next marker (or
// end of text). Only the first occurrence of each source index is kept.
func ParseToolSources(text string) []SourceBlock {
	locs := sourceBlockPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	seen := make(map[int]struct{}, len(locs))
	var blocks []SourceBlock
	for i, loc := range locs {
		index, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		if _, dup := seen[index]; dup {
			continue
		}

		docID, err := strconv.Atoi(text[loc[4]:loc[5]])
		if err != nil {
			continue
		}

		var page *int
		if loc[6] >= 0 {
			if p, err := strconv.Atoi(text[loc[6]:loc[7]]); err == nil {
				page = &p
			}
		}

		quoteEnd := len(text)
		if i+1 < len(locs) {
			quoteEnd = locs[i+1][0]
		}
		quote := cleanQuote(text[loc[1]:quoteEnd])

		seen[index] = struct{}{}
		blocks = append(blocks, SourceBlock{
			Index:      index,
			DocumentID: docID,
			Page:       page,
			Quote:      quote,
		})
	}
	return blocks
}

// cleanQuote trims whitespace and one layer of surrounding quote characters.
func cleanQuote(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}} {
		if strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) && len(s) >= len(pair[0])+len(pair[1]) {
			s = strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
			break
		}
	}
	return s
}

// isCitationLabel reports whether an inline marker label designates a
// citation. The comparison is case-insensitive and ignores whitespace.
func isCitationLabel(label string) bool {
	normalized := strings.ToLower(strings.Join(strings.Fields(label), ""))
	if normalized == "" {
		return false
	}
	if _, ok := citationLabels[normalized]; ok {
		return true
	}
	return strings.Contains(normalized, "cite") || strings.Contains(normalized, "source")
}

// CitedIndices collects the set of source indices referenced by inline
// citation markers in assistant text.
func CitedIndices(assistantText string) map[int]struct{} {
	matches := citationMarkerPattern.FindAllStringSubmatch(assistantText, -1)
	indices := make(map[int]struct{})
	for _, m := range matches {
		if !isCitationLabel(m[1]) {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil {
			indices[n] = struct{}{}
		}
	}
	return indices
}

// BuildFallbackCitations turns parsed source blocks into library citations,
// restricted to the indices the assistant actually cited. An empty reference
// set, or one that matches no parsed block, keeps every block instead: a
// mismatch must not silently drop all attribution.
func BuildFallbackCitations(blocks []SourceBlock, cited map[int]struct{}) []Citation {
	retained := blocks
	if len(cited) > 0 {
		var filtered []SourceBlock
		for _, b := range blocks {
			if _, ok := cited[b.Index]; ok {
				filtered = append(filtered, b)
			}
		}
		if len(filtered) > 0 {
			retained = filtered
		}
	}

	out := make([]Citation, 0, len(retained))
	for _, b := range retained {
		quote := truncateRunes(b.Quote, quoteMaxRunes)
		out = append(out, LibraryCitation{
			CitationID: fmt.Sprintf("lib-%d", b.Index),
			SourceType: SourceTypeLibrary,
			Title:      fmt.Sprintf("Document %d", b.DocumentID),
			Snippet:    truncateRunes(b.Quote, snippetMaxRunes),
			FileID:     b.DocumentID,
			FileName:   fmt.Sprintf("document-%d", b.DocumentID),
			Anchors: []Anchor{{
				AnchorID:  fmt.Sprintf("lib-%d-a1", b.Index),
				Page:      b.Page,
				StartChar: 0,
				EndChar:   len([]rune(quote)),
				Quote:     quote,
			}},
		})
	}
	return out
}

// ResolveSources applies the precedence policy: authoritative sources from the
// done payload win verbatim; otherwise citations are synthesized from tool
// output. Returns nil when neither path yields anything.
func ResolveSources(assistantText, toolOutput string, authoritative []Citation) []Citation {
	if len(authoritative) > 0 {
		return authoritative
	}
	if toolOutput == "" {
		return nil
	}

	blocks := ParseToolSources(toolOutput)
	if len(blocks) == 0 {
		return nil
	}

	return BuildFallbackCitations(blocks, CitedIndices(assistantText))
}

// AttachFallbackSources resolves citations retroactively for a hydrated
// history. For each assistant message without stored sources, tool outputs
// are collected scanning backward to the nearest preceding user message, then
// re-ordered so earlier tool calls come first.
func AttachFallbackSources(messages []Message) {
	for i := range messages {
		if messages[i].Role != RoleAssistant || len(messages[i].Sources) > 0 || messages[i].Content == "" {
			continue
		}

		var collected []string
		for j := i - 1; j >= 0; j-- {
			if messages[j].Role == RoleUser {
				break
			}
			if messages[j].Role == RoleTool && HasSourceMarkers(messages[j].Content) {
				collected = append(collected, messages[j].Content)
			}
		}
		if len(collected) == 0 {
			continue
		}

		// collected is in reverse transcript order
		for l, r := 0, len(collected)-1; l < r; l, r = l+1, r-1 {
			collected[l], collected[r] = collected[r], collected[l]
		}

		messages[i].Sources = ResolveSources(messages[i].Content, strings.Join(collected, "\n"), nil)
	}
}

// truncateRunes shortens s to at most max runes, safe for multi-byte text.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
