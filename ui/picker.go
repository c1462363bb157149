package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"ragos/model"
)

// PickerState is the conversation picker overlay: the fetched list, a fuzzy
// filter input, and the current selection.
type PickerState struct {
	conversations []model.ConversationSummary
	filtered      []model.ConversationSummary
	selected      int
	filterInput   textinput.Model
	loading       bool
	loadErr       error
	fromCache     bool
}

// conversationTitles adapts the list for fuzzy matching.
type conversationTitles []model.ConversationSummary

func (c conversationTitles) String(i int) string { return c[i].DisplayTitle() }
func (c conversationTitles) Len() int            { return len(c) }

// NewPickerState creates an empty picker.
func NewPickerState() PickerState {
	input := textinput.New()
	input.Prompt = "Filter: "
	input.CharLimit = 64
	return PickerState{filterInput: input}
}

// SetConversations installs a fetched list and re-applies the filter.
func (p *PickerState) SetConversations(conversations []model.ConversationSummary, fromCache bool) {
	p.conversations = conversations
	p.fromCache = fromCache
	p.loading = false
	p.loadErr = nil
	p.applyFilter()
}

// SetError records a failed fetch.
func (p *PickerState) SetError(err error) {
	p.loading = false
	p.loadErr = err
}

// Open resets selection and filter for a fresh showing.
func (p *PickerState) Open() {
	p.loading = true
	p.loadErr = nil
	p.selected = 0
	p.filterInput.SetValue("")
	p.filterInput.Focus()
}

// applyFilter narrows the list to fuzzy matches of the filter text.
func (p *PickerState) applyFilter() {
	query := strings.TrimSpace(p.filterInput.Value())
	if query == "" {
		p.filtered = p.conversations
	} else {
		matches := fuzzy.FindFrom(query, conversationTitles(p.conversations))
		filtered := make([]model.ConversationSummary, 0, len(matches))
		for _, m := range matches {
			filtered = append(filtered, p.conversations[m.Index])
		}
		p.filtered = filtered
	}
	if p.selected >= len(p.filtered) {
		p.selected = 0
	}
}

// MoveUp moves the selection cursor up.
func (p *PickerState) MoveUp() {
	if p.selected > 0 {
		p.selected--
	}
}

// MoveDown moves the selection cursor down.
func (p *PickerState) MoveDown() {
	if p.selected < len(p.filtered)-1 {
		p.selected++
	}
}

// Selected returns the conversation under the cursor, nil when the list is
// empty.
func (p *PickerState) Selected() *model.ConversationSummary {
	if len(p.filtered) == 0 || p.selected >= len(p.filtered) {
		return nil
	}
	conv := p.filtered[p.selected]
	return &conv
}

// View renders the picker overlay.
func (p *PickerState) View(width, height int) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Conversations"))
	if p.fromCache {
		b.WriteString(DimStyle.Render("  (cached)"))
	}
	b.WriteString("\n\n")
	b.WriteString(p.filterInput.View())
	b.WriteString("\n\n")

	switch {
	case p.loading:
		b.WriteString(DimStyle.Render("Loading..."))
	case p.loadErr != nil:
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("Failed to load conversations: %v", p.loadErr)))
	case len(p.filtered) == 0:
		b.WriteString(DimStyle.Render("No conversations"))
	default:
		visible := height - 8
		if visible < 3 {
			visible = 3
		}
		start := 0
		if p.selected >= visible {
			start = p.selected - visible + 1
		}
		end := start + visible
		if end > len(p.filtered) {
			end = len(p.filtered)
		}
		for i := start; i < end; i++ {
			conv := p.filtered[i]
			line := conv.DisplayTitle()
			if width > 8 {
				line = runewidth.Truncate(line, width-8, "...")
			}
			timestamp := DimStyle.Render(conv.UpdatedAt.Format("2006-01-02 15:04"))
			if i == p.selected {
				b.WriteString(SelectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("  " + timestamp + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(FormatFooter("↑/↓", "Navigate", "Enter", "Open", "Esc", "Close"))
	return b.String()
}
