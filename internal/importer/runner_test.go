package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/concierge/internal/extractor"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExtractor struct {
	failOn    string
	extracted int
	calls     []string // source ids passed to Process
	notes     []string
}

func (f *fakeExtractor) Extract(_ context.Context, text, note string) []knowledge.ExtractedKnowledge {
	f.extracted++
	f.notes = append(f.notes, note)
	return []knowledge.ExtractedKnowledge{{Name: "n", Content: text}}
}

func (f *fakeExtractor) Process(_ context.Context, ws, sourceID, text, note string) ([]knowledge.ExtractedKnowledge, *extractor.Outcome, error) {
	f.calls = append(f.calls, sourceID)
	f.notes = append(f.notes, note)
	items := []knowledge.ExtractedKnowledge{{Name: "n", Content: text}}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return items, &extractor.Outcome{}, errors.New("insert failed")
	}
	return items, &extractor.Outcome{
		Stored:     []knowledge.Item{{ID: "k-" + sourceID, WorkspaceID: ws}},
		Duplicates: []extractor.Duplicate{{ExistingID: "old"}},
	}, nil
}

type fakeNotifier struct{ texts []string }

func (f *fakeNotifier) PostThread(_ context.Context, threadTS, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

const testDoc = `# Delivery
Nairobi 200 KES, same day.

# Payment
M-Pesa and card accepted.

# Returns
Seven days, unworn items only.
`

func writeDoc(t *testing.T) (doc, state string) {
	t.Helper()
	dir := t.TempDir()
	doc = filepath.Join(dir, "catalogue.md")
	if err := os.WriteFile(doc, []byte(testDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	return doc, filepath.Join(dir, "state.json")
}

func TestRunner_ImportsAndResumes(t *testing.T) {
	doc, statePath := writeDoc(t)
	ext := &fakeExtractor{failOn: "M-Pesa"}
	notifier := &fakeNotifier{}

	r := NewRunner(Config{WorkspaceID: "ws-1", File: doc, StatePath: statePath}, ext, notifier, discardLogger())
	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Sections != 3 || sum.Stored != 2 || sum.Duplicates != 2 || len(sum.Errors) != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if !strings.HasPrefix(ext.calls[0], "import:catalogue.md#") {
		t.Errorf("unexpected source id %q", ext.calls[0])
	}
	if !strings.Contains(ext.notes[0], `"Delivery"`) {
		t.Errorf("expected heading in context note, got %q", ext.notes[0])
	}
	if len(notifier.texts) != 1 || !strings.Contains(notifier.texts[0], "1 sections failed") {
		t.Errorf("unexpected summary post %v", notifier.texts)
	}

	// Second run only retries the failed section.
	ext2 := &fakeExtractor{}
	sum2, err := NewRunner(Config{WorkspaceID: "ws-1", File: doc, StatePath: statePath}, ext2, nil, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum2.Skipped != 2 || len(ext2.calls) != 1 || sum2.Stored != 1 {
		t.Errorf("expected only the failed section retried, got %+v calls=%v", sum2, ext2.calls)
	}
}

func TestRunner_DryRunWritesNothing(t *testing.T) {
	doc, statePath := writeDoc(t)
	ext := &fakeExtractor{}

	sum, err := NewRunner(Config{WorkspaceID: "ws-1", File: doc, StatePath: statePath, DryRun: true}, ext, nil, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ext.extracted != 3 || len(ext.calls) != 0 {
		t.Errorf("expected Extract only, got extract=%d process=%d", ext.extracted, len(ext.calls))
	}
	if sum.Extracted != 3 || sum.Stored != 0 || !sum.DryRun {
		t.Errorf("unexpected summary %+v", sum)
	}
	if _, err := os.Stat(statePath); !os.IsNotExist(err) {
		t.Errorf("dry run wrote state: %v", err)
	}
}

func TestRunner_Errors(t *testing.T) {
	doc, statePath := writeDoc(t)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no workspace", Config{File: doc, StatePath: statePath}},
		{"missing file", Config{WorkspaceID: "ws-1", File: filepath.Join(t.TempDir(), "nope.md"), StatePath: statePath}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRunner(tt.cfg, &fakeExtractor{}, nil, discardLogger()).Run(context.Background()); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ext := &fakeExtractor{}
		_, err := NewRunner(Config{WorkspaceID: "ws-1", File: doc, StatePath: statePath}, ext, nil, discardLogger()).Run(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if len(ext.calls) != 0 {
			t.Errorf("expected no extraction after cancel, got %d", len(ext.calls))
		}
	})
}

func TestFormatSummary(t *testing.T) {
	got := FormatSummary("ws-1", &Summary{File: "faq.md", Sections: 4, Skipped: 1, Extracted: 6, Stored: 5, Duplicates: 1, DryRun: true})
	for _, want := range []string{"`faq.md`", "`ws-1`", "(dry run)", "4 sections, 1 already imported", "5 stored, 1 duplicates"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "failed") {
		t.Errorf("unexpected failure line in %q", got)
	}
}
