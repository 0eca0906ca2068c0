package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DefaultStateDir holds one state file per workspace.
const DefaultStateDir = "~/.concierge/import"

// State tracks which sections have been imported so an interrupted run can
// resume without re-extracting.
type State struct {
	WorkspaceID       string    `json:"workspace_id"`
	StartedAt         time.Time `json:"started_at"`
	LastProcessedAt   time.Time `json:"last_processed_at"`
	ProcessedSections []string  `json:"processed_sections"`
	ItemsStored       int       `json:"items_stored"`
	Duplicates        int       `json:"duplicates"`
	Errors            []string  `json:"errors"`

	path string
}

// StatePath returns the default state file for a workspace.
func StatePath(workspaceID string) string {
	return filepath.Join(expandHome(DefaultStateDir), workspaceID+".json")
}

// LoadState reads the state at path, or starts a fresh one when the file
// does not exist.
func LoadState(path, workspaceID string) (*State, error) {
	path = expandHome(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{
				WorkspaceID: workspaceID,
				StartedAt:   time.Now().UTC(),
				path:        path,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if s.WorkspaceID != "" && s.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("state %s belongs to workspace %s", path, s.WorkspaceID)
	}
	s.WorkspaceID = workspaceID
	s.path = path
	return &s, nil
}

// Save writes the state to disk, creating parent directories as needed.
func (s *State) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *State) IsProcessed(hash string) bool {
	return slices.Contains(s.ProcessedSections, hash)
}

func (s *State) MarkProcessed(hash string) {
	if !s.IsProcessed(hash) {
		s.ProcessedSections = append(s.ProcessedSections, hash)
	}
}

func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
