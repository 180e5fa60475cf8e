package recognize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"gorgonia.org/tensor"

	"github.com/airscribe/airscribe/pkg/types"
	"github.com/airscribe/airscribe/server/internal/classify"
	"github.com/airscribe/airscribe/server/internal/collector"
	"github.com/airscribe/airscribe/server/internal/drawing"
	"github.com/airscribe/airscribe/server/internal/metrics"
	"github.com/airscribe/airscribe/server/internal/normalize"
	"github.com/airscribe/airscribe/server/internal/store"
)

// ErrUnavailable is returned when no predictor is configured for a source.
var ErrUnavailable = errors.New("recognize: no model configured for this input")

// Config wires a Service. Store and Metrics are required; a nil Drawing
// predictor disables drawing recognition.
type Config struct {
	Normalizer *normalize.Normalizer
	IMU        *classify.Predictor

	Drawing      *classify.Predictor
	DrawingInput *drawing.Preprocessor

	Store   *store.Store
	Metrics *metrics.Metrics
}

// Service runs recognitions. It is safe for concurrent use.
type Service struct {
	cfg   Config
	now   func() time.Time // injectable for deterministic tests
	ready atomic.Bool
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.IMU == nil {
		return nil, errors.New("recognize: IMU predictor is required")
	}
	if cfg.Store == nil || cfg.Metrics == nil {
		return nil, errors.New("recognize: store and metrics are required")
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalize.New(normalize.DefaultOptions())
	}
	if cfg.Drawing != nil && cfg.DrawingInput == nil {
		cfg.DrawingInput = drawing.New(drawing.DefaultSize)
	}
	return &Service{cfg: cfg, now: time.Now}, nil
}

// Ready reports whether the last Warmup succeeded. It is false until the
// first successful Warmup.
func (s *Service) Ready() bool { return s.ready.Load() }

// Warmup runs one inference on a zero series through the IMU path. A model
// whose input or output shape does not fit the normalizer and label set
// fails here, and Ready stays false.
func (s *Service) Warmup(ctx context.Context) error {
	width := s.cfg.Normalizer.Options().Channels
	input, err := s.cfg.Normalizer.Normalize(normalize.Series{make([]float64, width)})
	if err == nil {
		_, err = s.cfg.IMU.Predict(ctx, input)
	}
	if err != nil {
		s.ready.Store(false)
		return fmt.Errorf("recognize: warmup: %w", err)
	}
	s.ready.Store(true)
	slog.Info("recognize: warmup complete", "input_shape", fmt.Sprint(input.Shape()))
	return nil
}

// RecognizeRecording reads a finished collection file and predicts the
// character written during it.
func (s *Service) RecognizeRecording(ctx context.Context, rec collector.Recording) (types.Prediction, error) {
	series, err := normalize.ReadFile(rec.Path)
	if err != nil {
		return types.Prediction{}, s.failed(err)
	}
	p, err := s.predictSeries(ctx, series)
	if err != nil {
		return types.Prediction{}, err
	}
	p.DataPoints = rec.DataPoints
	p.SessionID = rec.ID
	return s.record(p), nil
}

// RecognizeSeries predicts from an in-memory series.
func (s *Service) RecognizeSeries(ctx context.Context, series normalize.Series) (types.Prediction, error) {
	p, err := s.predictSeries(ctx, series)
	if err != nil {
		return types.Prediction{}, err
	}
	p.DataPoints = len(series)
	return s.record(p), nil
}

// RecognizeDrawing predicts from an encoded image of a handwritten character.
func (s *Service) RecognizeDrawing(ctx context.Context, r io.Reader) (types.Prediction, error) {
	if s.cfg.Drawing == nil {
		return types.Prediction{}, ErrUnavailable
	}
	input, err := s.cfg.DrawingInput.Decode(r)
	if err != nil {
		return types.Prediction{}, s.failed(err)
	}
	p, err := s.predict(ctx, s.cfg.Drawing, input, types.SourceDrawing)
	if err != nil {
		return types.Prediction{}, err
	}
	return s.record(p), nil
}

func (s *Service) predictSeries(ctx context.Context, series normalize.Series) (types.Prediction, error) {
	input, err := s.cfg.Normalizer.Normalize(series)
	if err != nil {
		return types.Prediction{}, s.failed(err)
	}
	return s.predict(ctx, s.cfg.IMU, input, types.SourceIMU)
}

func (s *Service) predict(ctx context.Context, pred *classify.Predictor, input tensor.Tensor, source string) (types.Prediction, error) {
	start := s.now()
	res, err := pred.Predict(ctx, input)
	if err != nil {
		return types.Prediction{}, fmt.Errorf("recognize: %w", err)
	}
	s.cfg.Metrics.ObservePrediction(source, s.now().Sub(start))
	return types.Prediction{
		Source:     source,
		Character:  res.Label,
		Confidence: res.Confidence,
		ClassIndex: res.Index,
	}, nil
}

func (s *Service) record(p types.Prediction) types.Prediction {
	p = s.cfg.Store.Put(p)
	slog.Info("recognize: prediction",
		"id", p.ID,
		"source", p.Source,
		"character", p.Character,
		"confidence", p.Confidence,
	)
	return p
}

func (s *Service) failed(err error) error {
	kind := FailureKind(err)
	s.cfg.Metrics.PreprocessingFailed(kind)
	slog.Warn("recognize: preprocessing failed", "kind", kind, "err", err)
	return fmt.Errorf("recognize: %w", err)
}

// FailureKind classifies a preprocessing error for metrics and API
// responses: "empty_input", "shape", "numeric_coercion", "numeric", or "io"
// for anything else.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, normalize.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, normalize.ErrShape):
		return "shape"
	case errors.Is(err, normalize.ErrNumericCoercion):
		return "numeric_coercion"
	case errors.Is(err, normalize.ErrNumeric):
		return "numeric"
	default:
		return "io"
	}
}
