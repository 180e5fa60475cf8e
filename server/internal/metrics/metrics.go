package metrics

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Metric names.
const (
	PredictionsTotal       = "airscribe_predictions_total"
	InferenceSeconds       = "airscribe_inference_duration_seconds"
	PreprocessFailureTotal = "airscribe_preprocessing_failures_total"
	SamplesAcceptedTotal   = "airscribe_samples_accepted_total"
	SamplesDroppedTotal    = "airscribe_samples_dropped_total"
	CollectionsTotal       = "airscribe_collections_total"
	CollectionActive       = "airscribe_collection_active"
)

// Metrics is a small set of process-wide counters. The zero value is not
// usable; call New.
type Metrics struct {
	mu sync.Mutex

	predictions map[string]float64 // by source
	inferSum    map[string]float64 // seconds, by source
	inferCount  map[string]uint64
	failures    map[string]float64 // by error kind

	accepted    float64
	dropped     float64
	collections float64
	active      bool
}

// New returns an empty Metrics.
func New() *Metrics {
	return &Metrics{
		predictions: make(map[string]float64),
		inferSum:    make(map[string]float64),
		inferCount:  make(map[string]uint64),
		failures:    make(map[string]float64),
	}
}

// ObservePrediction records one completed prediction for source and the time
// spent in the classifier.
func (m *Metrics) ObservePrediction(source string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions[source]++
	m.inferSum[source] += d.Seconds()
	m.inferCount[source]++
}

// PreprocessingFailed records a rejected input. kind is a short error class
// such as "shape" or "numeric".
func (m *Metrics) PreprocessingFailed(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind]++
}

// SamplesReceived records samples pushed by agents.
func (m *Metrics) SamplesReceived(accepted, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted += float64(accepted)
	m.dropped += float64(dropped)
}

// SetCollecting updates the active-collection gauge. A false→true transition
// also counts a new collection.
func (m *Metrics) SetCollecting(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on && !m.active {
		m.collections++
	}
	m.active = on
}

// Gather returns the current metric families sorted by name. Labelled
// families with no observations yet are omitted.
func (m *Metrics) Gather() []*dto.MetricFamily {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0.0
	if m.active {
		active = 1
	}
	mfs := []*dto.MetricFamily{
		labelled(PredictionsTotal, "Predictions served, by input source.", "source", m.predictions),
		labelled(PreprocessFailureTotal, "Inputs rejected before inference, by error kind.", "kind", m.failures),
		scalar(SamplesAcceptedTotal, "IMU samples accepted from agents.", dto.MetricType_COUNTER, m.accepted),
		scalar(SamplesDroppedTotal, "IMU samples dropped because no collection was active or the buffer was full.", dto.MetricType_COUNTER, m.dropped),
		scalar(CollectionsTotal, "Collection sessions started.", dto.MetricType_COUNTER, m.collections),
		scalar(CollectionActive, "1 while a collection session is active.", dto.MetricType_GAUGE, active),
		m.inferenceSummary(),
	}
	out := mfs[:0]
	for _, mf := range mfs {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

func (m *Metrics) inferenceSummary() *dto.MetricFamily {
	mf := family(InferenceSeconds, "Time spent in the classifier.", dto.MetricType_SUMMARY)
	for _, src := range sortedKeys(m.inferSum) {
		sum, count := m.inferSum[src], m.inferCount[src]
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{label("source", src)},
			Summary: &dto.Summary{SampleSum: &sum, SampleCount: &count},
		})
	}
	return mf
}

// Handler serves the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range m.Gather() {
			if err := enc.Encode(mf); err != nil {
				slog.Warn("metrics: encode failed", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}

// --- dto helpers ---

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{Name: &name, Help: &help, Type: typ.Enum()}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: &name, Value: &value}
}

func scalar(name, help string, typ dto.MetricType, v float64) *dto.MetricFamily {
	mf := family(name, help, typ)
	metric := &dto.Metric{}
	if typ == dto.MetricType_GAUGE {
		metric.Gauge = &dto.Gauge{Value: &v}
	} else {
		metric.Counter = &dto.Counter{Value: &v}
	}
	mf.Metric = []*dto.Metric{metric}
	return mf
}

// labelled builds a counter family with one series per key.
func labelled(name, help, key string, values map[string]float64) *dto.MetricFamily {
	mf := family(name, help, dto.MetricType_COUNTER)
	for _, k := range sortedKeys(values) {
		v := values[k]
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{label(key, k)},
			Counter: &dto.Counter{Value: &v},
		})
	}
	return mf
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
