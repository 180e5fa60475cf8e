package classify

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"gorgonia.org/tensor"
)

// Simulated is a stand-in classifier for demo setups without a trained
// model. It ignores its input, picks a class uniformly at random and gives it
// a confidence in [MinConfidence, 1.00] rounded to two decimals; the rest of
// the probability mass is spread evenly over the other classes.
type Simulated struct {
	classes       int
	minConfidence float64

	mu  sync.Mutex
	rng *rand.Rand
}

// MinConfidence is the lowest confidence Simulated reports.
const MinConfidence = 0.70

// NewSimulated returns a Simulated classifier over n classes seeded with seed.
func NewSimulated(n int, seed int64) *Simulated {
	return &Simulated{
		classes:       n,
		minConfidence: MinConfidence,
		rng:           rand.New(rand.NewSource(seed)), //nolint:gosec // demo output
	}
}

// Classify implements Classifier.
func (s *Simulated) Classify(ctx context.Context, _ tensor.Tensor) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	pick := s.rng.Intn(s.classes)
	conf := s.minConfidence + s.rng.Float64()*(1-s.minConfidence)
	s.mu.Unlock()

	conf = math.Round(conf*100) / 100
	scores := make([]float64, s.classes)
	if s.classes > 1 {
		rest := (1 - conf) / float64(s.classes-1)
		for i := range scores {
			scores[i] = rest
		}
	}
	scores[pick] = conf
	return scores, nil
}
