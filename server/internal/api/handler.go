package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/airscribe/airscribe/pkg/types"
	"github.com/airscribe/airscribe/server/internal/collector"
	"github.com/airscribe/airscribe/server/internal/metrics"
	"github.com/airscribe/airscribe/server/internal/normalize"
	"github.com/airscribe/airscribe/server/internal/recognize"
	"github.com/airscribe/airscribe/server/internal/store"
)

// Websocket event names published by the API.
const (
	EventStatus     = "status"
	EventPrediction = "prediction"
)

const (
	defaultHistoryLimit = 50
	maxJSONBody         = 4 << 20
	maxDrawingBody      = 10 << 20
)

// Publisher pushes events to live subscribers (the websocket hub).
type Publisher interface {
	Publish(event string, data interface{})
}

// Corrector fixes a recognised word using its surrounding text.
type Corrector interface {
	Correct(ctx context.Context, word, sentence string) (string, error)
}

// Deps are the services the API is built on. Push, Corrector and Events may
// be nil; the corresponding features are then disabled.
type Deps struct {
	Collector  *collector.Collector
	Push       *collector.Push
	Recognizer *recognize.Service
	Store      *store.Store
	Metrics    *metrics.Metrics
	Corrector  Corrector
	Events     Publisher
}

// Handler is the HTTP handler for all API endpoints.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{deps: d, mux: http.NewServeMux()}

	for _, p := range []string{"/api/v1/collection/start", "/start"} {
		h.mux.HandleFunc(p, h.start)
	}
	for _, p := range []string{"/api/v1/collection/stop", "/stop"} {
		h.mux.HandleFunc(p, h.stop)
	}
	for _, p := range []string{"/api/v1/collection/status", "/status"} {
		h.mux.HandleFunc(p, h.status)
	}
	h.mux.HandleFunc("/api/v1/samples", h.samples)
	h.mux.HandleFunc("/api/v1/predict", h.predictSeries)
	for _, p := range []string{"/api/v1/predict/drawing", "/predict"} {
		h.mux.HandleFunc(p, h.predictDrawing)
	}
	h.mux.HandleFunc("/api/v1/predictions", h.predictions)
	h.mux.HandleFunc("/api/v1/correct-word", h.correctWord)
	if d.Metrics != nil {
		h.mux.Handle("/metrics", d.Metrics.Handler())
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- collection -------------------------------------------------------------

// start handles POST /api/v1/collection/start.
func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	sess, err := h.deps.Collector.Start(r.Context())
	if errors.Is(err, collector.ErrAlreadyRunning) {
		jsonResp(w, http.StatusConflict, StartResponse{
			Status:  "already_running",
			Message: "Collection already in progress",
		})
		return
	}
	if err != nil {
		slog.Error("api: start collection", "err", err)
		jsonErr(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.SetCollecting(true)
	}

	jsonResp(w, http.StatusOK, StartResponse{
		Status:    "started",
		SessionID: sess.ID,
		File:      sess.Path,
		Message:   "Data collection started - writing to file",
		Timestamp: sess.Started.UTC().Format(time.RFC3339),
	})
}

// stop handles POST /api/v1/collection/stop. It ends the session and runs
// recognition over the recording.
func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	rec, err := h.deps.Collector.Stop()
	if errors.Is(err, collector.ErrNotRunning) {
		jsonErr(w, http.StatusBadRequest, "not_running", "Collection not started")
		return
	}
	if err != nil {
		slog.Error("api: stop collection", "err", err)
		jsonErr(w, http.StatusInternalServerError, "stop_failed", err.Error())
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.SetCollecting(false)
	}

	p, err := h.deps.Recognizer.RecognizeRecording(r.Context(), rec)
	if err != nil {
		h.recognitionErr(w, err)
		return
	}
	h.publish(EventPrediction, p)

	jsonResp(w, http.StatusOK, StopResponse{
		Status:       "stopped",
		Character:    p.Character,
		Confidence:   p.Confidence,
		ClassIndex:   p.ClassIndex,
		Message:      "Prediction complete",
		DataPoints:   rec.DataPoints,
		SessionID:    rec.ID,
		File:         rec.Path,
		Detached:     rec.Detached,
		PredictionID: p.ID,
	})
}

// status handles GET /api/v1/collection/status.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, BuildStatus(h.deps.Collector))
}

// samples handles POST /api/v1/samples. Samples arriving while no session
// is active are counted as dropped.
func (h *Handler) samples(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.deps.Push == nil {
		jsonErr(w, http.StatusConflict, "push_disabled", "server is not configured for pushed samples")
		return
	}

	var batch types.SampleBatch
	if err := decodeJSON(w, r, &batch); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	resp := SamplesResponse{Collecting: h.deps.Collector.Status().Collecting()}
	for _, s := range batch.Samples {
		if !resp.Collecting || len(s.Values) == 0 {
			resp.Dropped++
			continue
		}
		if err := h.deps.Push.Push(s); err != nil {
			resp.Dropped++
			continue
		}
		resp.Accepted++
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.SamplesReceived(resp.Accepted, resp.Dropped)
	}
	slog.Debug("api: samples received",
		"device", batch.DeviceID,
		"accepted", resp.Accepted,
		"dropped", resp.Dropped,
	)
	jsonResp(w, http.StatusOK, resp)
}

// --- prediction -------------------------------------------------------------

// predictSeries handles POST /api/v1/predict with a JSON row matrix.
func (h *Handler) predictSeries(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	var req PredictRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	p, err := h.deps.Recognizer.RecognizeSeries(r.Context(), normalize.FromRows(toRows(req.Rows)))
	if err != nil {
		h.recognitionErr(w, err)
		return
	}
	h.publish(EventPrediction, p)
	jsonResp(w, http.StatusOK, PredictionResponse{Prediction: p, Message: "Prediction successful"})
}

// predictDrawing handles POST /api/v1/predict/drawing with a multipart
// "drawing" image.
func (h *Handler) predictDrawing(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxDrawingBody)
	file, _, err := r.FormFile("drawing")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		jsonErr(w, http.StatusRequestEntityTooLarge, "drawing_too_large",
			"drawing exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "missing_drawing", "No drawing uploaded")
		return
	}
	defer file.Close()

	p, err := h.deps.Recognizer.RecognizeDrawing(r.Context(), file)
	if err != nil {
		h.recognitionErr(w, err)
		return
	}
	h.publish(EventPrediction, p)
	jsonResp(w, http.StatusOK, PredictionResponse{Prediction: p, Message: "Prediction successful"})
}

// predictions handles GET /api/v1/predictions?limit=N.
func (h *Handler) predictions(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	preds := h.deps.Store.List(limit)
	jsonResp(w, http.StatusOK, PredictionsResponse{Predictions: preds, Count: len(preds)})
}

// correctWord handles POST /api/v1/correct-word.
func (h *Handler) correctWord(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if h.deps.Corrector == nil {
		jsonErr(w, http.StatusServiceUnavailable, "corrector_disabled", "word correction is not configured")
		return
	}

	var req CorrectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Word == "" {
		jsonErr(w, http.StatusBadRequest, "missing_word", "word is required")
		return
	}

	corrected, err := h.deps.Corrector.Correct(r.Context(), req.Word, req.Context)
	resp := CorrectResponse{Original: req.Word, Corrected: corrected}
	if err != nil {
		slog.Warn("api: word correction failed, returning original", "err", err)
		resp.Fallback = true
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) publish(event string, data interface{}) {
	if h.deps.Events != nil {
		h.deps.Events.Publish(event, data)
	}
}

// recognitionErr maps a recognition failure to its HTTP status.
func (h *Handler) recognitionErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, normalize.ErrPreprocessing):
		jsonResp(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "preprocessing_failed",
			Message: err.Error(),
			Kind:    recognize.FailureKind(err),
		})
	case errors.Is(err, recognize.ErrUnavailable):
		jsonErr(w, http.StatusServiceUnavailable, "model_unavailable", err.Error())
	case errors.Is(err, context.Canceled):
		jsonErr(w, http.StatusServiceUnavailable, "canceled", err.Error())
	default:
		slog.Error("api: recognition failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "prediction_failed", err.Error())
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		jsonErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}

// toRows converts nullable JSON cells to floats, mapping null to NaN.
func toRows(in [][]*float64) [][]float64 {
	out := make([][]float64, len(in))
	for i, row := range in {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			if v == nil {
				out[i][j] = math.NaN()
				continue
			}
			out[i][j] = *v
		}
	}
	return out
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, errCode, msg string) {
	jsonResp(w, code, errorResponse{Error: errCode, Message: msg})
}
