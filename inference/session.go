// Package inference - Segmentation model sessions and evaluation runs.
package inference

import (
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// Model predicts per-pixel class logits for an image.
type Model interface {
	// Predict returns logits of shape (1, C, H, W).
	Predict(img image.Image) (*tensor.Dense, error)
}

// SessionArgs represents the arguments for creating a new segmentation session.
type SessionArgs struct {
	// ModelPath is the ONNX model file.
	ModelPath string
	// LibraryPath is the onnxruntime shared library. Empty selects
	// DefaultLibraryPath.
	LibraryPath string
	// InputName and OutputName are the model's tensor names.
	InputName  string
	OutputName string
	// Width and Height are the model input size.
	Width  int
	Height int
	// Classes is the number of output channels.
	Classes int
	// Backend selects the execution provider.
	Backend Backend
	// DeviceID selects the GPU for the CUDA backend.
	DeviceID int
	// Threads bounds intra-op parallelism. Zero lets onnxruntime decide.
	Threads int
}

// Session is an onnxruntime session with preallocated input and output
// tensors. Predict is safe for concurrent use; calls are serialised.
type Session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	args    SessionArgs
	mu      sync.Mutex
}

var envMu sync.Mutex

// initEnvironment loads the shared library once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	return errors.Wrap(ort.InitializeEnvironment(), "initialize onnxruntime")
}

// NewSession loads a segmentation model with fixed input (1, 3, H, W) and
// output (1, C, H, W) tensors.
//
// Arguments:
//   - args: The model, its tensor names and shapes, and the execution provider.
//
// Returns:
//   - *Session: The runnable session. Close releases it.
//   - error: An error if the runtime or the model cannot be loaded.
func NewSession(args SessionArgs) (*Session, error) {
	if args.Width < 1 || args.Height < 1 || args.Classes < 1 {
		return nil, errors.Errorf("invalid session shape %dx%d with %d classes", args.Width, args.Height, args.Classes)
	}
	if args.InputName == "" {
		args.InputName = "input"
	}
	if args.OutputName == "" {
		args.OutputName = "output"
	}
	if args.LibraryPath == "" {
		args.LibraryPath = DefaultLibraryPath()
	}
	if err := initEnvironment(args.LibraryPath); err != nil {
		return nil, err
	}

	h, w := int64(args.Height), int64(args.Width)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, h, w))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(args.Classes), h, w))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(args.Threads); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "set intra-op threads")
	}
	if err := appendProvider(options, args.Backend, args.DeviceID); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		[]string{args.InputName},
		[]string{args.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(err, "load model %s", args.ModelPath)
	}

	return &Session{session: session, input: input, output: output, args: args}, nil
}

// Predict runs the model on one image.
func (s *Session) Predict(img image.Image) (*tensor.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("session closed")
	}
	if err := PrepareInput(img, s.input.GetData(), s.args.Width, s.args.Height); err != nil {
		return nil, err
	}
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "run model")
	}

	logits := make([]float32, len(s.output.GetData()))
	copy(logits, s.output.GetData())
	return tensor.New(
		tensor.WithShape(1, s.args.Classes, s.args.Height, s.args.Width),
		tensor.WithBacking(logits),
	), nil
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		if err != nil {
			return errors.Wrap(err, "destroy session")
		}
	}
	return nil
}
