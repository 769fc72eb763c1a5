package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/doujins-org/newsfeed/article"
	"github.com/doujins-org/newsfeed/engagement"
)

type feedResponse struct {
	Articles []article.RankedArticle `json:"articles"`
}

type recommendationsResponse struct {
	UserID          string                  `json:"user_id"`
	Recommendations []article.RankedArticle `json:"recommendations"`
}

type engagementRequest struct {
	UserID        string  `json:"user_id" validate:"required"`
	ArticleID     string  `json:"article_id" validate:"required"`
	DwellSeconds  float64 `json:"dwell_seconds" validate:"gte=0"`
	ScrollDepth   float64 `json:"scroll_depth" validate:"gte=0,lte=1"`
	ArticleLength int     `json:"article_length" validate:"gte=0"`
}

type engagementResponse struct {
	Strength float64 `json:"strength"`
	Queued   bool    `json:"queued"`
	TaskID   int64   `json:"task_id,omitempty"`
}

// intParam reads an optional integer; absent means 0 so the service applies
// its default.
func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return v, nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("health check failed")
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	randomize, err := boolParam(r, "randomize")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	items, err := h.svc.GetRecommendations(r.Context(), userID, limit, randomize)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, recommendationsResponse{UserID: userID, Recommendations: items})
}

func (h *Handler) Trend(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	items, err := h.svc.GetTrendFeed(r.Context(), limit)
	h.feed(w, r, items, err)
}

func (h *Handler) Category(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	items, err := h.svc.GetCategoryFeed(r.Context(), chi.URLParam(r, "category"), limit)
	h.feed(w, r, items, err)
}

func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	items, err := h.svc.Related(r.Context(), chi.URLParam(r, "id"), limit)
	h.feed(w, r, items, err)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	items, err := h.svc.Search(r.Context(), r.URL.Query().Get("q"), limit)
	h.feed(w, r, items, err)
}

func (h *Handler) feed(w http.ResponseWriter, r *http.Request, items []article.RankedArticle, err error) {
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, feedResponse{Articles: items})
}

// Engagement scores a finished reading session and queues a profile update
// when the session qualifies. Bounces are accepted and dropped.
func (h *Handler) Engagement(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		h.respondError(w, http.StatusServiceUnavailable, "unavailable", "profile updates are disabled")
		return
	}
	var req engagementRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.ArticleID = strings.TrimSpace(req.ArticleID)
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	strength, err := engagement.Score(engagement.Signal{
		Dwell:         time.Duration(req.DwellSeconds * float64(time.Second)),
		ScrollDepth:   req.ScrollDepth,
		ArticleLength: req.ArticleLength,
	})
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if strength <= 0 {
		h.respondJSON(w, http.StatusAccepted, engagementResponse{Strength: strength})
		return
	}
	id, err := h.queue.Enqueue(r.Context(), req.UserID, req.ArticleID, strength)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Str("article_id", req.ArticleID).Msg("enqueue profile update")
		h.respondError(w, http.StatusServiceUnavailable, "unavailable", "could not queue profile update")
		return
	}
	h.respondJSON(w, http.StatusAccepted, engagementResponse{Strength: strength, Queued: true, TaskID: id})
}
