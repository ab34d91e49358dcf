package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"tradelab/internal/classifier"
	"tradelab/internal/gateway"
	"tradelab/internal/live"
	"tradelab/internal/logger"
	"tradelab/internal/model"
	"tradelab/internal/service"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	core   Core
	live   Signals
	bars   Bars
	replay Replay
	log    zerolog.Logger
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn().Err(err).Msg("encode response")
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		RequestID: logger.TraceID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// writeServiceError maps service errors onto status codes.
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, model.ErrTrainingInProgress):
		h.writeError(w, r, http.StatusConflict, "training_in_progress", err.Error())
	case errors.Is(err, model.ErrDataUnavailable):
		h.writeError(w, r, http.StatusUnprocessableEntity, "data_unavailable", err.Error())
	case errors.Is(err, model.ErrUnknownStrategy):
		h.writeError(w, r, http.StatusBadRequest, "unknown_strategy", err.Error())
	case errors.Is(err, model.ErrRunNotFound):
		h.writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	default:
		log := logger.FromContext(r.Context(), h.log)
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func (h *handlers) notFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

// ── Backtests ──

func (h *handlers) strategies(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"strategies": h.core.Strategies()})
}

// runBacktest answers 200 even when the series was unavailable; the body
// then carries the default result and a warning.
func (h *handlers) runBacktest(w http.ResponseWriter, r *http.Request) {
	var req service.BacktestRequest
	if !h.decode(w, r, &req) {
		return
	}
	report, err := h.core.RunBacktest(r.Context(), req)
	if err != nil && !(errors.Is(err, model.ErrDataUnavailable) && report != nil) {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit > 500 {
		limit = 500
	}
	runs, err := h.core.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.core.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// ── Model ──

func (h *handlers) train(w http.ResponseWriter, r *http.Request) {
	var req service.TrainRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, err := h.core.TrainModel(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":   "training",
		"trace_id": ticket.TraceID,
		"samples":  ticket.Samples,
	})
}

// PredictRequest carries either a raw feature vector or the inputs to build
// one from.
type PredictRequest struct {
	Features   []float64                `json:"features,omitempty"`
	Price      float64                  `json:"price,omitempty"`
	Volume     float64                  `json:"volume,omitempty"`
	Indicators *model.IndicatorSnapshot `json:"indicators,omitempty"`
}

func (h *handlers) predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !h.decode(w, r, &req) {
		return
	}

	features := req.Features
	switch {
	case len(features) > classifier.FeatureCount:
		h.writeError(w, r, http.StatusBadRequest, "invalid_request",
			"at most "+strconv.Itoa(classifier.FeatureCount)+" features")
		return
	case len(features) == 0 && req.Indicators != nil:
		features = classifier.Extract(*req.Indicators, req.Price, req.Volume, 0)
	case len(features) == 0:
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "features or indicators required")
		return
	}

	pred := h.core.Predict(features)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"prediction": pred,
		"trained":    h.core.ModelStatus().Trained,
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.core.ModelStatus())
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"training":    h.core.TrainingHistory(),
		"predictions": h.core.RecentPredictions(queryInt(r, "limit", 20)),
	})
}

// ── Market data ──

func (h *handlers) enrichedBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	days := queryInt(r, "days", service.DefaultDays)
	bars, err := h.bars.Enriched(r.Context(), symbol, days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"days":   days,
		"bars":   bars,
	})
}

func (h *handlers) signalSymbols(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": h.live.Symbols()})
}

func (h *handlers) signals(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	snap, ok := h.live.Latest(symbol)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, "unknown_symbol", "no live data for "+symbol)
		return
	}
	signals := h.live.Signals(symbol)
	if signals == nil {
		signals = []live.Signal{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":     symbol,
		"indicators": snap,
		"signals":    signals,
	})
}

// missed returns buffered signal envelopes for symbol with from_seq <=
// channel_seq <= to_seq, for clients that reconnect after a gap.
func (h *handlers) missed(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "symbol required")
		return
	}
	channel := gateway.SignalChannel(symbol)
	from := int64(queryInt(r, "from_seq", 1))
	to := int64(queryInt(r, "to_seq", 0))
	if to <= 0 {
		to = h.replay.GetChannelSeq(channel)
	}

	raw := h.replay.GetReplayRange(channel, from, to)
	out := make([]json.RawMessage, len(raw))
	for i, b := range raw {
		out[i] = b
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel":  channel,
		"from_seq": from,
		"to_seq":   to,
		"messages": out,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
