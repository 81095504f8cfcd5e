package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/astrelia/readings/internal/auth"
	"github.com/astrelia/readings/internal/ledger"
	"github.com/astrelia/readings/internal/orchestrate"
	"github.com/astrelia/readings/internal/reading"
	"github.com/astrelia/readings/internal/usage"
	"github.com/astrelia/readings/pkg/ratelimit"
)

type Handler struct {
	readings *reading.Service
	usage    usage.Store
	limiter  *ratelimit.Limiter
	tracer   trace.Tracer
}

func NewHandler(readings *reading.Service, usageStore usage.Store, limiter *ratelimit.Limiter, tracer trace.Tracer) *Handler {
	return &Handler{
		readings: readings,
		usage:    usageStore,
		limiter:  limiter,
		tracer:   tracer,
	}
}

func (h *Handler) HandleCreateReading(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.prepare(w, r)
	if !ok {
		return
	}

	var req reading.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SubjectID = subjectID

	ctx, span := h.tracer.Start(r.Context(), "readings.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject_id", subjectID),
		attribute.String("reading_type", string(req.Type)),
	)

	record, err := h.readings.CreateReading(ctx, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) HandleGetReading(w http.ResponseWriter, r *http.Request) {
	subjectID := auth.GetSubjectID(r.Context())
	if subjectID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	record, err := h.readings.GetReading(r.Context(), chi.URLParam(r, "id"), subjectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) HandleListReadings(w http.ResponseWriter, r *http.Request) {
	subjectID := auth.GetSubjectID(r.Context())
	if subjectID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.readings.ListBySubject(r.Context(), subjectID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []*reading.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": records})
}

func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.prepare(w, r)
	if !ok {
		return
	}

	var req reading.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "readings.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject_id", subjectID),
		attribute.String("reading_type", string(req.Type)),
	)

	res, c, err := h.readings.GenerateOnly(ctx, &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"interpretation": res,
		"chart":          c,
	})
}

func (h *Handler) HandleGenerateStream(w http.ResponseWriter, r *http.Request) {
	_, ok := h.prepare(w, r)
	if !ok {
		return
	}

	var req reading.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ch, providerName, err := h.readings.Stream(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Provider", providerName)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	for chunk := range ch {
		if chunk.Err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"%s\"}\n\n", chunk.Err.Error())
			flusher.Flush()
			break
		}
		if chunk.Done {
			fmt.Fprintf(w, "data: [DONE]\n\n")
			flusher.Flush()
			break
		}

		escaped := strings.ReplaceAll(chunk.Delta, `"`, `\"`)
		escaped = strings.ReplaceAll(escaped, "\n", `\n`)
		fmt.Fprintf(w, "data: {\"delta\":\"%s\"}\n\n", escaped)
		flusher.Flush()
	}
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := auth.GetSubjectID(ctx)
	if subjectID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' timestamp, expected RFC3339")
			return
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' timestamp, expected RFC3339")
			return
		}
	}

	logs, err := h.usage.GetUsageBySubject(ctx, subjectID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch usage")
		return
	}
	totalCost, err := h.usage.GetTotalCostBySubject(ctx, subjectID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch usage")
		return
	}
	if logs == nil {
		logs = []*usage.Log{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subject_id":     subjectID,
		"from":           from.Format(time.RFC3339),
		"to":             to.Format(time.RFC3339),
		"total_cost_usd": totalCost,
		"logs":           logs,
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// prepare runs the checks shared by the generation endpoints: identity and
// the per-subject request limit.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (string, bool) {
	subjectID := auth.GetSubjectID(r.Context())
	if subjectID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(r.Context(), subjectID)
		if err != nil || !allowed {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return "", false
		}
	}
	return subjectID, true
}

// writeDomainError maps service sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reading.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, reading.ErrReadingNotFound),
		errors.Is(err, ledger.ErrSubjectNotFound),
		errors.Is(err, ledger.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, reading.ErrConcurrentRequest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInsufficientCredits),
		errors.Is(err, ledger.ErrTrialAlreadyUsed):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, orchestrate.ErrAllProvidersExhausted):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
