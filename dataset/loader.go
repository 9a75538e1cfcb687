package dataset

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// LoadDirectory reads all wavefield image records from a directory.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - The records of every non-hidden image file, sorted by name.
//   - An error if the directory cannot be read.
func LoadDirectory(dir string) ([]Record, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset directory %s", dir)
	}

	var records []Record
	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
			continue
		}
		if _, ok := FormatOf(filepath.Ext(file.Name())); !ok {
			continue
		}
		records = append(records, ParseRecord(filepath.Join(dir, file.Name())))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})

	return records, nil
}

// FilterKind returns the records of the given kind, keeping their order.
func FilterKind(records []Record, kind Kind) []Record {
	var out []Record
	for _, r := range records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// ReadNames reads a newline separated list of file names, such as a
// validation list, ignoring blank lines.
func ReadNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return names, nil
}
