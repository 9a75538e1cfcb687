// Package config - Settings for evaluation, prediction and augmentation runs.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DEEPWAVES_MODEL_PATH.
const EnvPrefix = "DEEPWAVES_"

// Config holds the settings shared by every deepwaves command.
type Config struct {
	// Classes are the segmentation class names, in label index order.
	Classes []string `json:"classes" yaml:"classes"`
	// CodesPath optionally points at a codes.txt listing the classes.
	CodesPath string `json:"codes_path" yaml:"codes_path"`
	// VoidClass names the class excluded from foreground accuracy.
	VoidClass string `json:"void_class" yaml:"void_class"`

	// ImagesDir holds the wavefield images.
	ImagesDir string `json:"images_dir" yaml:"images_dir"`
	// LabelsDir holds the ground-truth masks.
	LabelsDir string `json:"labels_dir" yaml:"labels_dir"`
	// TestDir holds images to predict on.
	TestDir string `json:"test_dir" yaml:"test_dir"`
	// PredictionsDir receives predicted masks.
	PredictionsDir string `json:"predictions_dir" yaml:"predictions_dir"`
	// ValidListPath receives the validation split.
	ValidListPath string `json:"valid_list_path" yaml:"valid_list_path"`

	// ModelPath is the exported ONNX segmentation model.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// ONNXLibraryPath is the onnxruntime shared library.
	ONNXLibraryPath string `json:"onnx_library_path" yaml:"onnx_library_path"`
	// Provider selects the onnxruntime execution provider: cpu, cuda or coreml.
	Provider string `json:"provider" yaml:"provider"`
	// InputWidth and InputHeight are the model's input size.
	InputWidth  int `json:"input_width" yaml:"input_width"`
	InputHeight int `json:"input_height" yaml:"input_height"`

	// Kind is the wavefield component to evaluate: real, imaginary or magnitude.
	Kind string `json:"kind" yaml:"kind"`
	// LabelSuffix follows the base name of a ground-truth mask.
	LabelSuffix string `json:"label_suffix" yaml:"label_suffix"`
	// PredictionSuffix follows the base name of a predicted mask.
	PredictionSuffix string `json:"prediction_suffix" yaml:"prediction_suffix"`

	// Epsilon is added to every IoU union.
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`
	// NoiseVariances are the gaussian noise levels used for augmentation.
	NoiseVariances []float64 `json:"noise_variances" yaml:"noise_variances"`
	// ValidPct is the validation fraction of a split.
	ValidPct float64 `json:"valid_pct" yaml:"valid_pct"`
	// Seed makes splits reproducible.
	Seed int64 `json:"seed" yaml:"seed"`
	// Workers bounds concurrent batch and augmentation work.
	Workers int `json:"workers" yaml:"workers"`

	// ReportPath receives the spreadsheet report.
	ReportPath string `json:"report_path" yaml:"report_path"`
	// DatabasePath is the SQLite evaluation history.
	DatabasePath string `json:"database_path" yaml:"database_path"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `json:"log_level" yaml:"log_level"`
	// LogFormat is text or json.
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Classes:          []string{"Void", "Defect"},
		VoidClass:        "Void",
		ImagesDir:        filepath.Join("data", "images"),
		LabelsDir:        filepath.Join("data", "labels"),
		TestDir:          filepath.Join("data", "test"),
		PredictionsDir:   filepath.Join("data", "predictions"),
		ValidListPath:    filepath.Join("data", "valid.txt"),
		ModelPath:        filepath.Join("models", "deepwaves.onnx"),
		Provider:         "cpu",
		InputWidth:       256,
		InputHeight:      256,
		Kind:             "real",
		LabelSuffix:      "_mask",
		PredictionSuffix: "_pred",
		Epsilon:          1e-8,
		NoiseVariances:   []float64{0.001, 0.005, 0.01, 0.02, 0.04, 0.06, 0.08, 0.1},
		ValidPct:         0.2,
		Seed:             42,
		Workers:          4,
		ReportPath:       "report.xlsx",
		DatabasePath:     "deepwaves.db",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load builds a configuration from defaults, an optional YAML file, a .env
// file in the working directory and DEEPWAVES_* environment variables, in
// that order of precedence (later wins).
//
// Arguments:
//   - path: The YAML file. Empty skips it.
//
// Returns:
//   - The validated configuration.
//   - An error if a source cannot be parsed or the result is invalid.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.CodesPath != "" {
		codes, err := LoadCodes(cfg.CodesPath)
		if err != nil {
			return nil, err
		}
		cfg.Classes = codes
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"CODES_PATH":        &c.CodesPath,
		"VOID_CLASS":        &c.VoidClass,
		"IMAGES_DIR":        &c.ImagesDir,
		"LABELS_DIR":        &c.LabelsDir,
		"TEST_DIR":          &c.TestDir,
		"PREDICTIONS_DIR":   &c.PredictionsDir,
		"VALID_LIST_PATH":   &c.ValidListPath,
		"MODEL_PATH":        &c.ModelPath,
		"ONNX_LIBRARY_PATH": &c.ONNXLibraryPath,
		"PROVIDER":          &c.Provider,
		"KIND":              &c.Kind,
		"LABEL_SUFFIX":      &c.LabelSuffix,
		"PREDICTION_SUFFIX": &c.PredictionSuffix,
		"REPORT_PATH":       &c.ReportPath,
		"DATABASE_PATH":     &c.DatabasePath,
		"LOG_LEVEL":         &c.LogLevel,
		"LOG_FORMAT":        &c.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"INPUT_WIDTH":  &c.InputWidth,
		"INPUT_HEIGHT": &c.InputHeight,
		"WORKERS":      &c.Workers,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, key)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"EPSILON":   &c.Epsilon,
		"VALID_PCT": &c.ValidPct,
	}
	for key, dst := range floats {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, key)
			}
			*dst = f
		}
	}

	if v, ok := lookup("SEED"); ok {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "%sSEED", EnvPrefix)
		}
		c.Seed = seed
	}
	if v, ok := lookup("CLASSES"); ok {
		c.Classes = strings.Split(v, ",")
		for i := range c.Classes {
			c.Classes[i] = strings.TrimSpace(c.Classes[i])
		}
	}
	if v, ok := lookup("NOISE_VARIANCES"); ok {
		c.NoiseVariances = c.NoiseVariances[:0:0]
		for _, field := range strings.Split(v, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return errors.Wrapf(err, "%sNOISE_VARIANCES", EnvPrefix)
			}
			c.NoiseVariances = append(c.NoiseVariances, f)
		}
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if len(c.Classes) == 0 {
		return errors.New("config: no classes")
	}
	if c.VoidClass != "" && c.ClassIndex(c.VoidClass) < 0 {
		return errors.Errorf("config: void class %q not among classes %v", c.VoidClass, c.Classes)
	}
	if c.Epsilon <= 0 {
		return errors.Errorf("config: epsilon must be positive, got %v", c.Epsilon)
	}
	if c.ValidPct < 0 || c.ValidPct > 1 {
		return errors.Errorf("config: valid_pct %v outside [0, 1]", c.ValidPct)
	}
	if c.Workers < 1 {
		return errors.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	if c.InputWidth < 1 || c.InputHeight < 1 {
		return errors.Errorf("config: invalid input size %dx%d", c.InputWidth, c.InputHeight)
	}
	for _, v := range c.NoiseVariances {
		if v < 0 {
			return errors.Errorf("config: negative noise variance %v", v)
		}
	}
	switch strings.ToLower(c.Kind) {
	case "real", "imaginary", "magnitude":
	default:
		return errors.Errorf("config: unknown kind %q", c.Kind)
	}
	return nil
}

// ClassIndex returns the label index of a class name, or -1.
func (c *Config) ClassIndex(name string) int {
	for i, class := range c.Classes {
		if class == name {
			return i
		}
	}
	return -1
}

// VoidIndex returns the label index of the void class, or -1 when none is
// configured.
func (c *Config) VoidIndex() int {
	if c.VoidClass == "" {
		return -1
	}
	return c.ClassIndex(c.VoidClass)
}

// NumClasses is the number of segmentation classes.
func (c *Config) NumClasses() int {
	return len(c.Classes)
}

// LoadCodes reads class names separated by whitespace, one or more per line.
func LoadCodes(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read codes %s", path)
	}
	codes := strings.Fields(string(data))
	if len(codes) == 0 {
		return nil, errors.Errorf("codes %s: no class names", path)
	}
	return codes, nil
}
