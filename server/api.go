package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 512 * 1024

// apiError carries the HTTP status of a failed operation.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(msg string) error {
	return &apiError{status: http.StatusBadRequest, message: msg}
}

// statusOf maps service errors to HTTP statuses.
func statusOf(err error) int {
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.status
	case errors.Is(err, core.ErrEmbeddingFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type summaryItem struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Emotions  []string  `json:"emotions"`
	Timestamp time.Time `json:"timestamp"`
}

func toItems(records []core.Record) []summaryItem {
	items := make([]summaryItem, len(records))
	for i, rec := range records {
		items[i] = summaryItem{
			ID:        rec.ID,
			Summary:   rec.Summary,
			Emotions:  rec.Emotions,
			Timestamp: rec.Timestamp,
		}
	}
	return items
}

type saveRequest struct {
	UserID      string   `json:"user_id"`
	SummaryText string   `json:"summary_text"`
	Emotions    []string `json:"emotions"`
}

type saveResponse struct {
	Message   string    `json:"message"`
	ID        string    `json:"id"`
	Emotions  []string  `json:"emotions"`
	Timestamp time.Time `json:"timestamp"`
	Persisted bool      `json:"persisted"`
}

type recentRequest struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

type recentResponse struct {
	UserID          string        `json:"user_id"`
	RecentSummaries []summaryItem `json:"recent_summaries"`
	Count           int           `json:"count"`
	TotalSessions   int           `json:"total_sessions"`
}

type searchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	TopK   int    `json:"top_k"`
}

type searchResponse struct {
	UserID  string        `json:"user_id"`
	Query   string        `json:"query"`
	Results []summaryItem `json:"results"`
	Count   int           `json:"count"`
}

type textRequest struct {
	UserID string `json:"user_id"`
}

type textResponse struct {
	UserID     string      `json:"user_id"`
	Summaries  []string    `json:"summaries"`
	Emotions   [][]string  `json:"emotions"`
	Timestamps []time.Time `json:"timestamps"`
}

type promptsRequest struct {
	UserID string `json:"user_id"`
	Count  *int   `json:"count"`
}

type promptsResponse struct {
	UserID  string   `json:"user_id"`
	Prompts []string `json:"prompts"`
	Count   int      `json:"count"`
}

// Operations shared by the HTTP handlers and the websocket RPC.

func (s *Server) saveSummary(ctx context.Context, req saveRequest) (*saveResponse, error) {
	if req.UserID == "" {
		return nil, badRequest("user_id is required")
	}
	if req.Emotions == nil {
		req.Emotions = []string{}
	}

	rec, err := s.memory.Save(ctx, req.UserID, req.SummaryText, req.Emotions)
	if err != nil && !(rec != nil && errors.Is(err, core.ErrPersistenceFailure)) {
		return nil, err
	}

	resp := &saveResponse{
		Message:   "Summary saved successfully",
		ID:        rec.ID,
		Emotions:  rec.Emotions,
		Timestamp: rec.Timestamp,
		Persisted: err == nil,
	}
	if err != nil {
		log.Printf("[SERVER] Summary %s kept in memory only: %v", rec.ID, err)
		resp.Message = "Summary saved but not yet persisted"
	}
	return resp, nil
}

func (s *Server) recentSummaries(ctx context.Context, req recentRequest) (*recentResponse, error) {
	if req.Count < 0 {
		return nil, badRequest("count must not be negative")
	}
	records := s.memory.RecentSummaries(ctx, req.UserID, req.Count)
	return &recentResponse{
		UserID:          req.UserID,
		RecentSummaries: toItems(records),
		Count:           len(records),
		TotalSessions:   s.memory.SessionCount(req.UserID),
	}, nil
}

func (s *Server) searchSummaries(ctx context.Context, req searchRequest) (*searchResponse, error) {
	if req.Query == "" {
		return nil, badRequest("query is required")
	}
	if req.TopK < 0 {
		return nil, badRequest("top_k must not be negative")
	}
	records, err := s.memory.SimilarSummaries(ctx, req.UserID, req.Query, req.TopK)
	if err != nil {
		return nil, err
	}
	return &searchResponse{
		UserID:  req.UserID,
		Query:   req.Query,
		Results: toItems(records),
		Count:   len(records),
	}, nil
}

func (s *Server) summaryText(req textRequest) *textResponse {
	h := s.memory.History(req.UserID)
	return &textResponse{
		UserID:     req.UserID,
		Summaries:  h.Summaries,
		Emotions:   h.Emotions,
		Timestamps: h.Timestamps,
	}
}

func (s *Server) generatePrompts(ctx context.Context, req promptsRequest) (*promptsResponse, error) {
	if req.UserID == "" {
		return nil, badRequest("user_id is required")
	}
	count := memory.DefaultPromptCount
	if req.Count != nil {
		if *req.Count <= 0 {
			return nil, badRequest("count must be positive")
		}
		count = *req.Count
	}
	prompts := s.memory.GenerateSessionPrompts(ctx, req.UserID, count)
	return &promptsResponse{
		UserID:  req.UserID,
		Prompts: prompts,
		Count:   len(prompts),
	}, nil
}

// HTTP handlers.

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "nim-recall memory service",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleSaveSummary(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.saveSummary(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecentSummaries(w http.ResponseWriter, r *http.Request) {
	count, err := intParam(r, "count", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.recentSummaries(r.Context(), recentRequest{
		UserID: chi.URLParam(r, "userID"),
		Count:  count,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearchSummaries(w http.ResponseWriter, r *http.Request) {
	topK, err := intParam(r, "top_k", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.searchSummaries(r.Context(), searchRequest{
		UserID: chi.URLParam(r, "userID"),
		Query:  r.URL.Query().Get("query"),
		TopK:   topK,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummaryText(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.summaryText(textRequest{UserID: chi.URLParam(r, "userID")}))
}

func (s *Server) handleGeneratePrompts(w http.ResponseWriter, r *http.Request) {
	var req promptsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.generatePrompts(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &apiError{status: http.StatusRequestEntityTooLarge, message: "request body too large"}
		}
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(name + " must be an integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[SERVER] Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}
