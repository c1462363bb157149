package ui

import (
	"fmt"
	"strings"

	"ragos/model"
)

// View implements tea.Model.
func (a AppView) View() string {
	if !a.ready {
		return "Initializing..."
	}

	if a.showPicker {
		return a.picker.View(a.width, a.height)
	}

	var b strings.Builder
	b.WriteString(a.viewport.View())
	b.WriteString("\n")
	b.WriteString(a.statusLine())
	b.WriteString("\n")
	b.WriteString(a.textarea.View())
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(FormatFooter(
		"Enter", "Send", "Esc", "Stop", "^E", "Edit", "^R", "Redo", "^O", "History", "^N", "New", "^Y", "Copy", "^W", "Web",
	)))
	return b.String()
}

// statusLine renders the one-line status area between transcript and input.
func (a AppView) statusLine() string {
	if tc := a.session.ToolCall(); tc != nil {
		label := fmt.Sprintf("%s %s...", tc.Name, tc.Status)
		if tc.Status == model.ToolStatusDone {
			label = fmt.Sprintf("%s done", tc.Name)
		}
		return a.loadingSpinner.View() + " " + ToolStyle.Render(label)
	}
	if a.session.IsStreaming() {
		return a.loadingSpinner.View() + " " + DimStyle.Render("Generating...")
	}
	if a.loadingHistory {
		return a.loadingSpinner.View() + " " + DimStyle.Render("Loading history...")
	}
	if a.statusMsg != "" {
		return StatusStyle.Render(a.statusMsg)
	}
	return ""
}

// refreshViewport rebuilds the transcript view. When follow is true the
// viewport snaps to the bottom, which is what streaming wants; cache fills
// keep the scroll position instead.
func (a *AppView) refreshViewport(follow bool) {
	if !a.ready {
		return
	}
	a.viewport.SetContent(a.renderMessages())
	if follow {
		a.viewport.GotoBottom()
	}
}

// renderMessages formats the whole transcript.
func (a *AppView) renderMessages() string {
	msgs := a.session.Messages()
	if len(msgs) == 0 {
		return DimStyle.Render("\n  Start a conversation. Your library and web search are available to the assistant.\n")
	}

	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			b.WriteString(UserStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(m.Content)
			if len(m.Images) > 0 {
				b.WriteString("\n")
				b.WriteString(DimStyle.Render(describeImages(m.Images)))
			}
			b.WriteString("\n\n")

		case model.RoleAssistant:
			b.WriteString(AssistantStyle.Render("Assistant"))
			b.WriteString("\n")
			b.WriteString(a.assistantBody(m))
			if sources := renderSources(m.Sources); sources != "" {
				b.WriteString("\n")
				b.WriteString(sources)
			}
			b.WriteString("\n\n")

		case model.RoleTool:
			// Raw tool transcripts stay hidden; the tool call summary on the
			// assistant message is what the user sees.
			if m.ToolName != "" {
				b.WriteString(DimStyle.Render(fmt.Sprintf("[tool: %s]", m.ToolName)))
				b.WriteString("\n\n")
			}
		}
	}
	return b.String()
}

// assistantBody picks the cached markdown rendering when available, falling
// back to plain text while streaming or before the async render lands.
func (a *AppView) assistantBody(m model.Message) string {
	if !m.IsStreaming {
		if rendered, ok := a.renderCache[m.ID]; ok {
			return rendered
		}
	}
	if m.Content == "" && m.IsStreaming {
		return DimStyle.Render("...")
	}
	return m.Content
}

// renderSources formats citation footnotes under an assistant message.
func renderSources(sources []model.Citation) string {
	if len(sources) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(SourceStyle.Render("Sources:"))
	b.WriteString("\n")
	for _, src := range sources {
		switch c := src.(type) {
		case model.WebCitation:
			title := c.Title
			if title == "" {
				title = c.URL
			}
			b.WriteString(SourceStyle.Render(fmt.Sprintf("  [%s] %s", c.CitationID, title)))
			if c.URL != "" && title != c.URL {
				b.WriteString(DimStyle.Render(" " + c.URL))
			}
		case model.LibraryCitation:
			location := c.FileName
			if len(c.Anchors) > 0 && c.Anchors[0].Page != nil {
				location = fmt.Sprintf("%s, p.%d", c.FileName, *c.Anchors[0].Page)
			}
			b.WriteString(SourceStyle.Render(fmt.Sprintf("  [%s] %s", c.CitationID, c.Title)))
			b.WriteString(DimStyle.Render(" (" + location + ")"))
		default:
			b.WriteString(SourceStyle.Render(fmt.Sprintf("  [%s]", src.ID())))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeImages(images []model.ImageSummary) string {
	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.OriginalFilename
	}
	return fmt.Sprintf("[attached: %s]", strings.Join(names, ", "))
}
