package header

import (
	"path/filepath"
	"strings"

	"github.com/hupe1980/colstore/internal/fs"
)

// InfoFileName is the user-visible table-info file.
const InfoFileName = "table.info"

// Info is the user-settable table description: a free-form type tag, a
// sub-type, and readme lines. Persisted as plain text.
type Info struct {
	Type    string
	SubType string
	Readme  []string
}

// WriteInfo persists the info file.
func WriteInfo(fsys fs.FileSystem, dir string, info Info) error {
	var b strings.Builder
	b.WriteString("Type = ")
	b.WriteString(info.Type)
	b.WriteString("\nSubType = ")
	b.WriteString(info.SubType)
	b.WriteString("\n")
	for _, line := range info.Readme {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return fs.WriteFileAtomic(fsys, filepath.Join(dir, InfoFileName), []byte(b.String()), 0o644)
}

// ReadInfo loads the info file; a missing file yields an empty Info.
func ReadInfo(fsys fs.FileSystem, dir string) (Info, error) {
	data, err := fs.ReadFile(fsys, filepath.Join(dir, InfoFileName))
	if err != nil {
		return Info{}, nil
	}
	var info Info
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		switch {
		case i == 0 && strings.HasPrefix(line, "Type = "):
			info.Type = strings.TrimPrefix(line, "Type = ")
		case i == 1 && strings.HasPrefix(line, "SubType = "):
			info.SubType = strings.TrimPrefix(line, "SubType = ")
		case line != "" || i < len(lines)-1:
			if i >= 2 {
				info.Readme = append(info.Readme, line)
			}
		}
	}
	// Drop a trailing empty readme entry produced by the final newline.
	if n := len(info.Readme); n > 0 && info.Readme[n-1] == "" {
		info.Readme = info.Readme[:n-1]
	}
	return info, nil
}
