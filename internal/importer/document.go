package importer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// LoadDocument reads a seller document. HTML exports are converted to
// markdown so their headings still split sections; anything else is read
// as markdown or plain text.
func LoadDocument(path string) (string, error) {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		md, err := htmltomarkdown.ConvertString(string(data))
		if err != nil {
			return "", fmt.Errorf("convert html: %w", err)
		}
		return md, nil
	default:
		return string(data), nil
	}
}
