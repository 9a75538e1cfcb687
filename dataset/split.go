package dataset

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Split picks a validation subset of the records. Names containing "aug" are
// dropped before sizing, so n counts only the un-augmented images and the
// held-out share is never reduced by the copies.
//
// Arguments:
//   - records: The candidate records.
//   - pct: Fraction of records to hold out, in [0, 1].
//   - seed: Shuffle seed, so a split can be reproduced.
//
// Returns:
//   - The names of ceil(pct·n) records, excluding augmented copies.
//   - An error if pct is out of range.
func Split(records []Record, pct float64, seed int64) ([]string, error) {
	if pct < 0 || pct > 1 || math.IsNaN(pct) {
		return nil, errors.Errorf("split: validation fraction %v outside [0, 1]", pct)
	}

	var names []string
	for _, r := range records {
		if strings.Contains(r.Name, "aug") {
			continue
		}
		names = append(names, r.Name)
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(names), func(i, j int) {
		names[i], names[j] = names[j], names[i]
	})

	n := int(math.Ceil(pct * float64(len(names))))
	return names[:n], nil
}

// WriteValidList writes one name per line, creating parent directories.
func WriteValidList(path string, names []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return errors.Wrapf(os.WriteFile(path, []byte(b.String()), 0o644), "write %s", path)
}
