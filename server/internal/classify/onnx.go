package classify

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	"gorgonia.org/tensor"
)

// ONNX runs a single-input, single-output ONNX model on the gorgonia backend.
// The graph is not reentrant, so calls are serialised.
type ONNX struct {
	path string

	mu      sync.Mutex
	backend *gorgonnx.Graph
	model   *onnx.Model
}

// LoadONNX reads and decodes the model at path.
func LoadONNX(path string) (*ONNX, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classify: read model %q: %w", path, err)
	}
	backend := gorgonnx.NewGraph()
	model := onnx.NewModel(backend)
	if err := model.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("classify: decode model %q: %w", path, err)
	}
	return &ONNX{path: path, backend: backend, model: model}, nil
}

// Path returns the model file the classifier was loaded from.
func (o *ONNX) Path() string { return o.path }

// Classify implements Classifier.
func (o *ONNX) Classify(ctx context.Context, input tensor.Tensor) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.model.SetInput(0, input); err != nil {
		return nil, fmt.Errorf("set input: %w", err)
	}
	if err := o.backend.Run(); err != nil {
		return nil, fmt.Errorf("run graph: %w", err)
	}
	outputs, err := o.model.GetOutputTensors()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if len(outputs) == 0 {
		return nil, ErrNoScores
	}
	return toFloat64(outputs[0].Data())
}
