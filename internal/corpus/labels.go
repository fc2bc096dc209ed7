package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// LabelIndex maps a record identifier to its judged label
type LabelIndex map[string]string

// Lookup returns the label for id
func (ix LabelIndex) Lookup(id string) (string, bool) {
	label, ok := ix[id]
	return label, ok
}

// LoadLabelIndex reads a whitespace-delimited "label id" file.
// A missing file or empty path yields an empty index. Blank lines are
// ignored; when an id repeats, the first label wins.
func LoadLabelIndex(path string) (LabelIndex, error) {
	ix := LabelIndex{}
	if path == "" {
		return ix, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ix, nil
	}
	if err != nil {
		return nil, &IngestionError{Stage: "labels", Path: path, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, &IngestionError{
				Stage: "labels",
				Path:  path,
				Line:  line,
				Err:   fmt.Errorf("expected 2 columns (label id), got %d", len(fields)),
			}
		}
		label, id := fields[0], fields[1]
		if _, seen := ix[id]; !seen {
			ix[id] = label
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &IngestionError{Stage: "labels", Path: path, Line: line, Err: err}
	}
	return ix, nil
}
