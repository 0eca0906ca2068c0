package importer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultMaxChars bounds a section so one extraction prompt stays small.
const DefaultMaxChars = 2000

// SplitDocument breaks a document into sections. Markdown headings always
// start a new section; under a heading, blank-line separated paragraphs
// are packed together up to maxChars. A single paragraph longer than
// maxChars is cut on word boundaries.
func SplitDocument(doc string, maxChars int) []Section {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var (
		sections []Section
		heading  string
		current  []string
		size     int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, "\n\n")
		sections = append(sections, Section{
			Index:   len(sections),
			Heading: heading,
			Text:    text,
			Hash:    hashSection(heading, text),
		})
		current = nil
		size = 0
	}

	for _, para := range paragraphs(doc) {
		if h, ok := headingText(para); ok {
			flush()
			heading = h
			continue
		}
		for _, piece := range splitLong(para, maxChars) {
			if size > 0 && size+len(piece)+2 > maxChars {
				flush()
			}
			current = append(current, piece)
			size += len(piece) + 2
		}
	}
	flush()

	return sections
}

// paragraphs splits on blank lines. A heading line glued to the text under
// it is split off as its own paragraph.
func paragraphs(doc string) []string {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")

	var out []string
	var buf []string
	emit := func() {
		if p := strings.TrimSpace(strings.Join(buf, "\n")); p != "" {
			out = append(out, p)
		}
		buf = nil
	}

	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			emit()
		case strings.HasPrefix(trimmed, "#"):
			emit()
			out = append(out, trimmed)
		default:
			buf = append(buf, line)
		}
	}
	emit()
	return out
}

func headingText(para string) (string, bool) {
	if !strings.HasPrefix(para, "#") || strings.Contains(para, "\n") {
		return "", false
	}
	h := strings.TrimSpace(strings.TrimLeft(para, "#"))
	if h == "" {
		return "", false
	}
	return h, true
}

func splitLong(para string, maxChars int) []string {
	if len(para) <= maxChars {
		return []string{para}
	}

	var out []string
	var sb strings.Builder
	for _, word := range strings.Fields(para) {
		if sb.Len() > 0 && sb.Len()+1+len(word) > maxChars {
			out = append(out, sb.String())
			sb.Reset()
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(word)
	}
	if sb.Len() > 0 {
		out = append(out, sb.String())
	}
	return out
}

func hashSection(heading, text string) string {
	sum := sha256.Sum256([]byte(heading + "\x00" + text))
	return hex.EncodeToString(sum[:16])
}

// ContextNote tells the extractor where a section came from.
func ContextNote(file string, s Section) string {
	if s.Heading == "" {
		return "Imported from the seller document " + file + "."
	}
	return "Imported from the seller document " + file + ", section \"" + s.Heading + "\"."
}
