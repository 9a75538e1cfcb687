// Package dataset - Wavefield image records, label masks and dataset splits.
package dataset

import (
	"path/filepath"
	"strings"
)

// Kind is the component of a complex wavefield an image was rendered from.
type Kind int

const (
	// KindUnknown is a file that carries none of the known kind tokens.
	KindUnknown Kind = iota
	// KindReal is the real part of the displacement field.
	KindReal
	// KindImaginary is the imaginary part of the displacement field.
	KindImaginary
	// KindMagnitude is the magnitude of the displacement field.
	KindMagnitude
)

// kinds is ordered by token match priority.
var kinds = []Kind{KindMagnitude, KindReal, KindImaginary}

// Token returns the filename token that marks the kind, e.g. "_real".
func (k Kind) Token() string {
	switch k {
	case KindReal:
		return "_real"
	case KindImaginary:
		return "_imaginary"
	case KindMagnitude:
		return "_magnitude"
	default:
		return ""
	}
}

func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindImaginary:
		return "imaginary"
	case KindMagnitude:
		return "magnitude"
	default:
		return "unknown"
	}
}

// ParseKind maps a kind name ("real", "imaginary", "magnitude") or token
// ("_real", ...) to a Kind.
func ParseKind(s string) Kind {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "_")
	for _, k := range kinds {
		if k.String() == name {
			return k
		}
	}
	return KindUnknown
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
)

// FormatOf returns the image format for a file extension, and false when the
// extension is not an image.
func FormatOf(ext string) (ImageFormat, bool) {
	switch strings.ToLower(ext) {
	case ".png":
		return FormatPNG, true
	case ".jpg", ".jpeg":
		return FormatJPEG, true
	case ".webp":
		return FormatWebP, true
	}
	return "", false
}

// Record describes one wavefield image file. The kind is resolved once, when
// the record is created, and travels with it.
type Record struct {
	// Path is the full path to the image file.
	Path string `json:"path" yaml:"path"`
	// Name is the file name including extension.
	Name string `json:"name" yaml:"name"`
	// Base is the file name before the kind token, e.g. "plate_017".
	Base string `json:"base" yaml:"base"`
	// Kind is the wavefield component.
	Kind Kind `json:"kind" yaml:"kind"`
	// Suffix is whatever follows the kind token before the extension,
	// e.g. "_gauss_3" for augmented copies.
	Suffix string `json:"suffix" yaml:"suffix"`
	// Ext is the extension including the dot.
	Ext string `json:"ext" yaml:"ext"`
	// Format is the image format implied by Ext.
	Format ImageFormat `json:"format" yaml:"format"`
}

// ParseRecord splits a path of the form <base><token><suffix><ext>.
// Files without a kind token get KindUnknown and the whole stem as Base.
func ParseRecord(path string) Record {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	format, _ := FormatOf(ext)

	rec := Record{
		Path:   path,
		Name:   name,
		Base:   stem,
		Kind:   KindUnknown,
		Ext:    ext,
		Format: format,
	}
	for _, k := range kinds {
		if idx := strings.Index(stem, k.Token()); idx >= 0 {
			rec.Kind = k
			rec.Base = stem[:idx]
			rec.Suffix = stem[idx+len(k.Token()):]
			break
		}
	}
	return rec
}

// Token returns the kind token of the record.
func (r Record) Token() string {
	return r.Kind.Token()
}

// Augmented reports whether the record is a generated copy rather than a
// rendered wavefield.
func (r Record) Augmented() bool {
	return strings.Contains(r.Suffix, "_gauss") || strings.Contains(r.Name, "aug")
}

// LabelPath returns the ground-truth mask path for the record: the mask shares
// the base name, followed by suffix (e.g. "_mask") and the same extension.
func (r Record) LabelPath(labelsDir, suffix string) string {
	return filepath.Join(labelsDir, r.Base+suffix+r.Ext)
}

// PredictionPath returns where a predicted mask for the record is written.
// Predictions are always PNG so class indices survive encoding.
func (r Record) PredictionPath(dir, suffix string) string {
	return filepath.Join(dir, r.Base+suffix+".png")
}
