package shortener

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shortly/shortly/internal/auth"
	"github.com/shortly/shortly/internal/httputil"
	"github.com/shortly/shortly/internal/logging"
)

// Handler contains HTTP handlers for short link endpoints
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// LinkRequest is the body for creating or updating a short link
type LinkRequest struct {
	URL       string `json:"url"`
	ShortCode string `json:"short_code"`
}

// ListResponse wraps the caller's links
type ListResponse struct {
	Links []*ShortLink `json:"links"`
}

// List returns the caller's links. Anonymous callers get an empty list.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetIdentityFromContext(r.Context())
	if !ok {
		httputil.RespondJSON(w, ListResponse{Links: []*ShortLink{}}, http.StatusOK)
		return
	}

	links, err := h.service.List(r.Context(), identity.UserID)
	if err != nil {
		logging.GetLoggerFromContext(r.Context()).Error("failed to list links", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to list links", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondJSON(w, ListResponse{Links: links}, http.StatusOK)
}

// Create stores a new short link for the caller.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())
	identity, _ := auth.GetIdentityFromContext(r.Context())

	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid link request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	link, err := h.service.Create(r.Context(), identity.UserID, req.URL, req.ShortCode)
	if err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			logger.Warn("link creation failed: duplicate code", "short_code", req.ShortCode)
			httputil.RespondErrorWithCode(w, "Short code already exists", httputil.CodeShortCodeExists, http.StatusConflict)
			return
		}
		if isValidationError(err) {
			logger.Warn("link creation failed: validation error", "error", err.Error())
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
			return
		}
		logger.Error("link creation failed: internal error", "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to create short link", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("short link created", "short_code", link.ShortCode, "user_id", identity.UserID)

	httputil.RespondJSON(w, link, http.StatusCreated)
}

// Redirect resolves a short code and issues a 302 to the target URL.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	target, err := h.service.Resolve(r.Context(), shortCode)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			httputil.RespondErrorWithCode(w, "Shortened URL not found", httputil.CodeNotFound, http.StatusNotFound)
			return
		}
		logging.GetLoggerFromContext(r.Context()).Error("redirect failed", "short_code", shortCode, "error", err.Error())
		httputil.RespondErrorWithCode(w, "failed to resolve short link", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// Get returns a single link owned by the caller.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.GetIdentityFromContext(r.Context())

	id, err := linkID(r)
	if err != nil {
		httputil.RespondErrorWithCode(w, "invalid link id", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	link, err := h.service.Get(r.Context(), id, identity.UserID)
	if err != nil {
		h.respondLinkError(w, r, err, "failed to get link")
		return
	}

	httputil.RespondJSON(w, link, http.StatusOK)
}

// Update rewrites a link owned by the caller.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())
	identity, _ := auth.GetIdentityFromContext(r.Context())

	id, err := linkID(r)
	if err != nil {
		httputil.RespondErrorWithCode(w, "invalid link id", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid link request body", "error", err.Error())
		httputil.RespondErrorWithCode(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	link, err := h.service.Update(r.Context(), id, identity.UserID, req.URL, req.ShortCode)
	if err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			httputil.RespondErrorWithCode(w, "Short code already exists", httputil.CodeShortCodeExists, http.StatusConflict)
			return
		}
		if isValidationError(err) {
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
			return
		}
		h.respondLinkError(w, r, err, "failed to update link")
		return
	}

	logger.Info("short link updated", "link_id", id, "user_id", identity.UserID)

	httputil.RespondJSON(w, link, http.StatusOK)
}

// Delete removes a link owned by the caller.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())
	identity, _ := auth.GetIdentityFromContext(r.Context())

	id, err := linkID(r)
	if err != nil {
		httputil.RespondErrorWithCode(w, "invalid link id", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := h.service.Delete(r.Context(), id, identity.UserID); err != nil {
		h.respondLinkError(w, r, err, "failed to delete link")
		return
	}

	logger.Info("short link deleted", "link_id", id, "user_id", identity.UserID)

	httputil.RespondJSON(w, map[string]string{"message": "link deleted"}, http.StatusOK)
}

func (h *Handler) respondLinkError(w http.ResponseWriter, r *http.Request, err error, internalMsg string) {
	if errors.Is(err, ErrLinkNotFound) {
		httputil.RespondErrorWithCode(w, "link not found", httputil.CodeNotFound, http.StatusNotFound)
		return
	}
	if errors.Is(err, ErrNotOwner) {
		httputil.RespondErrorWithCode(w, "link belongs to another user", httputil.CodeForbidden, http.StatusForbidden)
		return
	}
	logging.GetLoggerFromContext(r.Context()).Error(internalMsg, "error", err.Error())
	httputil.RespondErrorWithCode(w, internalMsg, httputil.CodeInternalError, http.StatusInternalServerError)
}

func linkID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func isValidationError(err error) bool {
	for _, validationErr := range []error{
		ErrInvalidURL, ErrURLTooLong,
		ErrCodeTooShort, ErrCodeTooLong, ErrCodeInvalid,
	} {
		if errors.Is(err, validationErr) {
			return true
		}
	}
	return false
}
