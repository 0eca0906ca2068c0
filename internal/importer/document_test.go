package importer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDocument_HTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogue.html")
	html := `<html><body><h1>Delivery</h1><p>Nairobi 200 KES, same day.</p><h2>Returns</h2><p>Seven days.</p></body></html>`
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if strings.Contains(doc, "<p>") {
		t.Errorf("expected markdown, got %q", doc)
	}

	sections := SplitDocument(doc, 500)
	if len(sections) != 2 || sections[0].Heading != "Delivery" || sections[1].Heading != "Returns" {
		t.Fatalf("unexpected sections %+v", sections)
	}
}

func TestLoadDocument_PlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faq.md")
	if err := os.WriteFile(path, []byte("<b>kept as is</b>"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if doc != "<b>kept as is</b>" {
		t.Errorf("markdown files must not be converted, got %q", doc)
	}

	if _, err := LoadDocument(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("expected error for missing file")
	}
}
