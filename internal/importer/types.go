package importer

// Section is one piece of a seller document small enough for a single
// extraction call.
type Section struct {
	Index   int
	Heading string // nearest markdown heading above the text, if any
	Text    string
	Hash    string // content hash used to resume interrupted imports
}

// Summary reports the totals of one import run.
type Summary struct {
	File       string   `json:"file"`
	Sections   int      `json:"sections"`
	Skipped    int      `json:"skipped"`
	Extracted  int      `json:"extracted"`
	Stored     int      `json:"stored"`
	Duplicates int      `json:"duplicates"`
	Errors     []string `json:"errors,omitempty"`
	DryRun     bool     `json:"dry_run"`
}
