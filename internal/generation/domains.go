package generation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DocumentParams configure a document draft generated from an inline
// prompt.
type DocumentParams struct {
	Topic      string `json:"topic"`
	Instructor string `json:"instructor,omitempty"`
	Style      string `json:"style,omitempty"`
}

// NoteParams configure formatted notes generated from a lecture
// transcript.
type NoteParams struct {
	DetectHeadings bool `json:"detect_headings"`
	IncludeSummary bool `json:"include_summary"`
}

// TextbookParams configure an explained rendition of textbook source
// material.
type TextbookParams struct {
	Title     string `json:"title"`
	PageCount int    `json:"page_count,omitempty"`
}

// buildPrompt assembles the provider prompt for one job from its raw
// input and captured params. This is the only place the three
// pipelines differ before the shared state machine takes over.
func buildPrompt(kind Kind, params []byte, input string) (string, error) {
	switch kind {
	case KindDocument:
		var p DocumentParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return "", fmt.Errorf("decode document params: %w", err)
			}
		}
		var b strings.Builder
		b.WriteString("Write a complete document draft")
		if p.Topic != "" {
			fmt.Fprintf(&b, " on the topic %q", p.Topic)
		}
		if p.Instructor != "" {
			fmt.Fprintf(&b, " for the course taught by %s", p.Instructor)
		}
		b.WriteString(".")
		if p.Style != "" {
			fmt.Fprintf(&b, " Use a %s style.", p.Style)
		}
		b.WriteString("\n\n")
		b.WriteString(input)
		return b.String(), nil

	case KindNote:
		var p NoteParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return "", fmt.Errorf("decode note params: %w", err)
			}
		}
		var b strings.Builder
		b.WriteString("Reformat the following lecture transcript into clean, well-structured study notes.")
		if p.DetectHeadings {
			b.WriteString(" Detect topic changes and insert section headings, starting with a heading.")
		}
		if p.IncludeSummary {
			b.WriteString(" End with a short summary of the key points.")
		}
		b.WriteString("\n\nTranscript:\n")
		b.WriteString(input)
		return b.String(), nil

	case KindTextbook:
		var p TextbookParams
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return "", fmt.Errorf("decode textbook params: %w", err)
			}
		}
		var b strings.Builder
		b.WriteString("Explain the following textbook material in plain language, section by section, keeping the original structure.")
		if p.Title != "" {
			fmt.Fprintf(&b, " The book is titled %q.", p.Title)
		}
		b.WriteString("\n\nMaterial:\n")
		b.WriteString(input)
		return b.String(), nil
	}
	return "", fmt.Errorf("unknown job kind: %s", kind)
}

// pageCount extracts a page count from the captured params when the
// kind records one; used only for token estimation fallback.
func pageCount(kind Kind, params []byte) int {
	if kind != KindTextbook || len(params) == 0 {
		return 0
	}
	var p TextbookParams
	if err := json.Unmarshal(params, &p); err != nil {
		return 0
	}
	return p.PageCount
}
