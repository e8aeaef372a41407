// Package render turns generated markdown show notes into sanitized HTML and
// pulls the structured sections later stages consume.
package render

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"gitlab.com/golang-commonmark/markdown"
)

var (
	mdOnce sync.Once
	md     *markdown.Markdown
	policy *bluemonday.Policy
)

func engine() (*markdown.Markdown, *bluemonday.Policy) {
	mdOnce.Do(func() {
		md = markdown.New(
			markdown.HTML(false),
			markdown.Linkify(true),
			markdown.Typographer(false),
			markdown.XHTMLOutput(false),
		)
		policy = bluemonday.UGCPolicy()
	})
	return md, policy
}

// HTML renders markdown and strips anything outside the user-content policy.
func HTML(src string) string {
	m, p := engine()
	return p.Sanitize(m.RenderToString([]byte(src)))
}

// Document wraps rendered show notes in a minimal standalone page.
func Document(title, src string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(bluemonday.StrictPolicy().Sanitize(title))
	b.WriteString("</title></head><body>\n")
	b.WriteString(HTML(src))
	b.WriteString("</body></html>\n")
	return b.String()
}

// Notes is the structured reading of show notes markdown.
type Notes struct {
	Title        string
	Summary      string
	Chapters     []string
	ImagePrompts []string
}

// Parse walks the markdown token stream. Sections are recognised by heading text:
// "Summary", "Chapters" and "Image Prompts", case-insensitively. The first
// level-one heading is the title.
func Parse(src string) Notes {
	m, _ := engine()
	var (
		notes     Notes
		section   string
		inHeading bool
		level     int
		listDepth int
		summary   []string
	)
	for _, tok := range m.Parse([]byte(src)) {
		switch t := tok.(type) {
		case *markdown.HeadingOpen:
			inHeading = true
			level = t.HLevel
		case *markdown.HeadingClose:
			inHeading = false
		case *markdown.ListItemOpen:
			listDepth++
		case *markdown.ListItemClose:
			listDepth--
		case *markdown.Inline:
			text := strings.TrimSpace(t.Content)
			if text == "" {
				continue
			}
			if inHeading {
				if level == 1 && notes.Title == "" {
					notes.Title = text
				}
				section = sectionName(text)
				continue
			}
			switch section {
			case "summary":
				summary = append(summary, text)
			case "chapters":
				if listDepth > 0 {
					notes.Chapters = append(notes.Chapters, text)
				}
			case "image prompts":
				if listDepth > 0 {
					notes.ImagePrompts = append(notes.ImagePrompts, text)
				}
			}
		}
	}
	notes.Summary = strings.Join(summary, "\n\n")
	return notes
}

func sectionName(heading string) string {
	h := strings.ToLower(strings.Trim(heading, " :#*"))
	switch {
	case strings.HasPrefix(h, "summary"):
		return "summary"
	case strings.HasPrefix(h, "chapter"):
		return "chapters"
	case strings.HasPrefix(h, "image prompt"):
		return "image prompts"
	default:
		return h
	}
}
