package importer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/concierge/internal/extractor"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
)

// Extractor is the slice of extractor.Extractor the importer drives.
type Extractor interface {
	Extract(ctx context.Context, text, contextNote string) []knowledge.ExtractedKnowledge
	Process(ctx context.Context, workspaceID, sourceID, text, contextNote string) ([]knowledge.ExtractedKnowledge, *extractor.Outcome, error)
}

// Notifier receives the run summary. Optional.
type Notifier interface {
	PostThread(ctx context.Context, threadTS, text string) error
}

// Config holds the import command configuration.
type Config struct {
	WorkspaceID string
	File        string
	StatePath   string // default: StatePath(WorkspaceID)
	MaxChars    int
	DryRun      bool
	BatchSize   int           // sections between state saves and pauses
	BatchPause  time.Duration // zero disables pausing
}

// Runner imports one seller document into a workspace's knowledge base.
type Runner struct {
	cfg       Config
	extractor Extractor
	notifier  Notifier
	logger    *slog.Logger
}

// NewRunner creates an import runner. notifier may be nil.
func NewRunner(cfg Config, ext Extractor, notifier Notifier, logger *slog.Logger) *Runner {
	if cfg.StatePath == "" {
		cfg.StatePath = StatePath(cfg.WorkspaceID)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Runner{cfg: cfg, extractor: ext, notifier: notifier, logger: logger}
}

// Run splits the document and extracts every section not already recorded
// in the state file. A failed section is logged and left unrecorded so the
// next run retries it.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if r.cfg.WorkspaceID == "" {
		return nil, knowledge.ErrTenantRequired
	}

	doc, err := LoadDocument(r.cfg.File)
	if err != nil {
		return nil, err
	}

	state, err := LoadState(r.cfg.StatePath, r.cfg.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	name := filepath.Base(r.cfg.File)
	sections := SplitDocument(doc, r.cfg.MaxChars)
	sum := &Summary{File: name, Sections: len(sections), DryRun: r.cfg.DryRun}

	r.logger.Info("document split",
		"workspace_id", r.cfg.WorkspaceID,
		"file", name,
		"sections", len(sections),
	)

	inBatch := 0
	for _, sec := range sections {
		select {
		case <-ctx.Done():
			r.logger.Info("import interrupted, saving state")
			r.save(state)
			return sum, ctx.Err()
		default:
		}

		if state.IsProcessed(sec.Hash) {
			sum.Skipped++
			continue
		}

		note := ContextNote(name, sec)
		if r.cfg.DryRun {
			items := r.extractor.Extract(ctx, sec.Text, note)
			sum.Extracted += len(items)
			r.logger.Info("section extracted (dry run)",
				"section", sec.Index,
				"heading", sec.Heading,
				"items", len(items),
			)
			continue
		}

		sourceID := fmt.Sprintf("import:%s#%s", name, sec.Hash[:12])
		items, out, err := r.extractor.Process(ctx, r.cfg.WorkspaceID, sourceID, sec.Text, note)
		sum.Extracted += len(items)
		if out != nil {
			sum.Stored += len(out.Stored)
			sum.Duplicates += len(out.Duplicates)
			state.ItemsStored += len(out.Stored)
			state.Duplicates += len(out.Duplicates)
		}
		if err != nil {
			r.logger.Error("section import failed", "section", sec.Index, "heading", sec.Heading, "error", err)
			msg := fmt.Sprintf("section %d (%s): %v", sec.Index, sec.Hash[:12], err)
			sum.Errors = append(sum.Errors, msg)
			state.AddError(msg)
			continue
		}

		state.MarkProcessed(sec.Hash)
		r.logger.Info("section imported",
			"section", sec.Index,
			"heading", sec.Heading,
			"stored", len(out.Stored),
			"duplicates", len(out.Duplicates),
		)

		inBatch++
		if inBatch >= r.cfg.BatchSize {
			inBatch = 0
			r.save(state)
			if r.cfg.BatchPause > 0 {
				select {
				case <-ctx.Done():
					return sum, ctx.Err()
				case <-time.After(r.cfg.BatchPause):
				}
			}
		}
	}

	if !r.cfg.DryRun {
		r.save(state)
	}
	r.postSummary(ctx, sum)

	r.logger.Info("import complete",
		"workspace_id", r.cfg.WorkspaceID,
		"file", name,
		"sections", sum.Sections,
		"skipped", sum.Skipped,
		"stored", sum.Stored,
		"duplicates", sum.Duplicates,
		"errors", len(sum.Errors),
		"dry_run", sum.DryRun,
	)
	return sum, nil
}

func (r *Runner) save(state *State) {
	if r.cfg.DryRun {
		return
	}
	if err := state.Save(); err != nil {
		r.logger.Error("failed to save import state", "path", state.path, "error", err)
	}
}

// postSummary posts the summary to Slack, or logs it when Slack is not
// configured or the post fails.
func (r *Runner) postSummary(ctx context.Context, sum *Summary) {
	text := FormatSummary(r.cfg.WorkspaceID, sum)
	if r.notifier == nil {
		return
	}
	if err := r.notifier.PostThread(ctx, "", text); err != nil {
		r.logger.Warn("failed to post import summary to Slack", "error", err, "summary", text)
	}
}

// FormatSummary renders a summary as a Slack message.
func FormatSummary(workspaceID string, sum *Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Knowledge import* `%s` for workspace `%s`", sum.File, workspaceID)
	if sum.DryRun {
		sb.WriteString(" (dry run)")
	}
	fmt.Fprintf(&sb, "\n%d sections, %d already imported\n", sum.Sections, sum.Skipped)
	fmt.Fprintf(&sb, "%d items extracted, %d stored, %d duplicates", sum.Extracted, sum.Stored, sum.Duplicates)
	if n := len(sum.Errors); n > 0 {
		fmt.Fprintf(&sb, "\n%d sections failed and will be retried on the next run", n)
	}
	return sb.String()
}
