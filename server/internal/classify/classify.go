package classify

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// ErrNoScores is returned when a classifier produces an empty score vector.
var ErrNoScores = errors.New("classify: classifier returned no scores")

// Classifier runs inference on a single-sample input tensor.
type Classifier interface {
	// Classify returns one score per class.
	Classify(ctx context.Context, input tensor.Tensor) ([]float64, error)
}

// Result is the outcome of a prediction.
type Result struct {
	Index      int
	Label      string
	Confidence float64
}

// Predictor selects the most likely label for an input.
type Predictor struct {
	classifier Classifier
	labels     []string
}

// NewPredictor returns a Predictor over labels. labels must not be empty.
func NewPredictor(c Classifier, labels []string) (*Predictor, error) {
	if c == nil {
		return nil, errors.New("classify: nil classifier")
	}
	if len(labels) == 0 {
		return nil, errors.New("classify: empty label set")
	}
	return &Predictor{classifier: c, labels: labels}, nil
}

// Predict classifies input and returns the arg-max label and its probability.
func (p *Predictor) Predict(ctx context.Context, input tensor.Tensor) (Result, error) {
	if input == nil {
		return Result{}, errors.New("classify: nil input tensor")
	}
	scores, err := p.classifier.Classify(ctx, input)
	if err != nil {
		return Result{}, fmt.Errorf("classify: inference: %w", err)
	}
	if len(scores) == 0 {
		return Result{}, ErrNoScores
	}
	if len(scores) != len(p.labels) {
		return Result{}, fmt.Errorf("classify: got %d scores, want %d (one per label)", len(scores), len(p.labels))
	}

	probs := probabilities(scores)
	best := argmax(probs)
	return Result{Index: best, Label: p.labels[best], Confidence: probs[best]}, nil
}

// probabilities returns scores unchanged when they already form a
// distribution, otherwise their softmax.
func probabilities(scores []float64) []float64 {
	var sum float64
	isDist := true
	for _, s := range scores {
		if s < 0 || s > 1 || math.IsNaN(s) {
			isDist = false
			break
		}
		sum += s
	}
	if isDist && math.Abs(sum-1) < 1e-3 {
		return scores
	}
	return softmax(scores)
}

func softmax(in []float64) []float64 {
	out := make([]float64, len(in))
	peak := math.Inf(-1)
	for _, v := range in {
		peak = math.Max(peak, v)
	}
	var sum float64
	for i, v := range in {
		out[i] = math.Exp(v - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// toFloat64 converts a tensor backing slice to []float64.
func toFloat64(data interface{}) ([]float64, error) {
	switch v := data.(type) {
	case []float64:
		return append([]float64(nil), v...), nil
	case []float32:
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out, nil
	case float32:
		return []float64{float64(v)}, nil
	case float64:
		return []float64{v}, nil
	default:
		return nil, fmt.Errorf("classify: unsupported output type %T", data)
	}
}
