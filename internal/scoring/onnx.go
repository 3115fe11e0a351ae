package scoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"quantum-trader/internal/models"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// InitializeORT loads the onnxruntime shared library once per process.
func InitializeORT(libPath string) error {
	ortOnce.Do(func() {
		if libPath == "" {
			libPath = "/usr/lib/libonnxruntime.so"
			if runtime.GOOS == "windows" {
				libPath = "onnxruntime.dll"
			} else if runtime.GOOS == "darwin" {
				libPath = "libonnxruntime.dylib"
			}
		}
		ort.SetSharedLibraryPath(libPath)
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNXScorer runs a (1, n) -> (1, 3) classifier exported to ONNX.
// The output may be logits or probabilities.
type ONNXScorer struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	size    int
}

// NewONNXScorer loads modelPath with an input of inputSize features.
func NewONNXScorer(modelPath, libPath string, inputSize int) (*ONNXScorer, error) {
	if err := InitializeORT(libPath); err != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", err)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(inputSize)), make([]float32, inputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &ONNXScorer{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		size:    inputSize,
	}, nil
}

func (s *ONNXScorer) Name() string { return "onnx" }

// Score copies the input into the bound tensor and runs the session.
func (s *ONNXScorer) Score(_ context.Context, input []float32) models.Result[models.Prediction] {
	if len(input) != s.size {
		return models.Unavailable[models.Prediction](fmt.Errorf("onnx: input length %d, model expects %d", len(input), s.size))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.input.GetData(), input)
	if err := s.session.Run(); err != nil {
		return models.Unavailable[models.Prediction](fmt.Errorf("inference failed: %w", err))
	}

	out := s.output.GetData()
	values := make([]float64, len(out))
	for i, v := range out {
		values[i] = float64(v)
	}
	if !isProbabilityVector(values) {
		values = Softmax(values)
	}

	pred, err := PredictionFromProbabilities(values)
	if err != nil {
		return models.Unavailable[models.Prediction](err)
	}
	return models.Available(pred)
}

// Close releases the session and tensors.
func (s *ONNXScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
	return nil
}
