package render

import (
	"reflect"
	"strings"
	"testing"
)

const sample = `# Shipping Queues

## Summary

We compare three job queues.

Postgres wins for small teams.

## Chapters

1. 00:00 Intro
2. 04:10 Benchmarks

## Image Prompts

- A whiteboard covered in queue diagrams
- A server rack at dusk
`

func TestParseSections(t *testing.T) {
	notes := Parse(sample)
	if notes.Title != "Shipping Queues" {
		t.Fatalf("Title = %q", notes.Title)
	}
	if notes.Summary != "We compare three job queues.\n\nPostgres wins for small teams." {
		t.Fatalf("Summary = %q", notes.Summary)
	}
	if want := []string{"00:00 Intro", "04:10 Benchmarks"}; !reflect.DeepEqual(notes.Chapters, want) {
		t.Fatalf("Chapters = %v, want %v", notes.Chapters, want)
	}
	want := []string{"A whiteboard covered in queue diagrams", "A server rack at dusk"}
	if !reflect.DeepEqual(notes.ImagePrompts, want) {
		t.Fatalf("ImagePrompts = %v, want %v", notes.ImagePrompts, want)
	}
}

func TestParseWithoutSections(t *testing.T) {
	notes := Parse("just a paragraph")
	if notes.Title != "" || notes.Summary != "" || len(notes.ImagePrompts) != 0 {
		t.Fatalf("notes = %+v, want empty", notes)
	}
}

func TestHTMLSanitizes(t *testing.T) {
	out := HTML("## Hi\n\n<script>alert(1)</script>\n\n[link](javascript:alert(1))")
	if !strings.Contains(out, "<h2>Hi</h2>") {
		t.Fatalf("missing heading in %q", out)
	}
	if strings.Contains(out, "<script>") || strings.Contains(out, `href="javascript`) {
		t.Fatalf("unsafe markup survived: %q", out)
	}
}

func TestDocumentEscapesTitle(t *testing.T) {
	out := Document("<b>Ep 1</b>", "text")
	if !strings.Contains(out, "<title>Ep 1</title>") {
		t.Fatalf("title not sanitized: %q", out)
	}
}
