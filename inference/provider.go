package inference

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend selects the onnxruntime execution provider.
type Backend string

const (
	// CPUBackend runs on the default CPU provider.
	CPUBackend Backend = "cpu"
	// CUDABackend runs on an NVIDIA GPU.
	CUDABackend Backend = "cuda"
	// CoreMLBackend runs through Apple CoreML.
	CoreMLBackend Backend = "coreml"
)

// ParseBackend maps a backend name to a Backend. Empty selects the CPU.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return CPUBackend, nil
	case CPUBackend, CUDABackend, CoreMLBackend:
		return b, nil
	default:
		return "", errors.Errorf("unknown execution provider %q", s)
	}
}

// DefaultLibraryPath returns the onnxruntime shared library path for the
// current platform.
//
// Returns:
//   - string: The path to the shared library.
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		return "third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so"
		}
		return "third_party/onnxruntime.so"
	}
}

// appendProvider enables the execution provider of the backend on options.
// The CPU needs nothing.
func appendProvider(options *ort.SessionOptions, backend Backend, deviceID int) error {
	switch backend {
	case CUDABackend:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "create CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
			return errors.Wrap(err, "configure CUDA")
		}
		return errors.Wrap(options.AppendExecutionProviderCUDA(cuda), "enable CUDA")
	case CoreMLBackend:
		return errors.Wrap(options.AppendExecutionProviderCoreML(0), "enable CoreML")
	}
	return nil
}
