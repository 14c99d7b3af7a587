package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortly/shortly/internal/httputil"
	"github.com/shortly/shortly/internal/logging"
	"github.com/shortly/shortly/internal/user"
)

// LinkCounter reports how many short links a user owns. Implemented by the
// shortener repository; an interface here to keep the packages decoupled.
type LinkCounter interface {
	CountForUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service         *Service
	userStore       UserStore
	linkCounter     LinkCounter
	isProduction    bool
	accessDuration  time.Duration
	refreshDuration time.Duration
}

func NewHandler(service *Service, userStore UserStore, linkCounter LinkCounter, isProduction bool, accessDuration, refreshDuration time.Duration) *Handler {
	return &Handler{
		service:         service,
		userStore:       userStore,
		linkCounter:     linkCounter,
		isProduction:    isProduction,
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
}

// AuthResponse is returned after a successful registration or login
type AuthResponse struct {
	User    UserResponse `json:"user"`
	Message string       `json:"message"`
}

// ProfileResponse is returned by the profile endpoint
type ProfileResponse struct {
	User        UserResponse `json:"user"`
	MemberSince string       `json:"member_since"`
	TotalLinks  int          `json:"total_links"`
}

// VerificationResponse is returned after requesting a verification mail
type VerificationResponse struct {
	Message          string `json:"message"`
	VerificationLink string `json:"verification_link"`
}

// Register handles user registration: creates the user and its first
// session, and sets both token cookies.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	newUser, tokens, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password, getClientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			logger.Warn("registration failed: email already exists")
			respondError(w, "User already exists", httputil.CodeUserExists, http.StatusConflict)
			return
		}
		if isValidationError(err) {
			logger.Warn("registration failed: validation error", "error", err.Error())
			respondError(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
			return
		}
		logger.Error("registration failed: internal error", "error", err.Error())
		respondError(w, "failed to register user", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user registered successfully", "user_id", newUser.ID)

	SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken, h.isProduction, h.accessDuration, h.refreshDuration)

	respondJSON(w, AuthResponse{
		User:    mapUserResponse(newUser),
		Message: "Registration successful",
	}, http.StatusCreated)
}

// Login handles user login and sets both token cookies.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	identity, tokens, err := h.service.Login(r.Context(), req.Email, req.Password, getClientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			// Unknown email and wrong password are deliberately identical.
			logger.Warn("login failed: invalid credentials")
			respondError(w, "Invalid email or password", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
			return
		}
		if isValidationError(err) {
			logger.Warn("login failed: validation error", "error", err.Error())
			respondError(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
			return
		}
		logger.Error("login failed: internal error", "error", err.Error())
		respondError(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user logged in successfully", "user_id", identity.UserID)

	SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken, h.isProduction, h.accessDuration, h.refreshDuration)

	respondJSON(w, map[string]string{"message": "logged in successfully"}, http.StatusOK)
}

// Logout deletes the caller's session and clears both cookies. Idempotent:
// an anonymous logout just clears cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if identity, ok := GetIdentityFromContext(r.Context()); ok {
		if err := h.service.Logout(r.Context(), identity.SessionID); err != nil {
			logger.Warn("failed to delete session", "session_id", identity.SessionID, "error", err.Error())
			// Cookies are cleared regardless.
		}
	}

	ClearAuthCookies(w)

	logger.Info("user logged out")

	respondJSON(w, map[string]string{"message": "logged out"}, http.StatusOK)
}

// Me echoes the resolved identity.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, _ := GetIdentityFromContext(r.Context())
	respondJSON(w, identity, http.StatusOK)
}

// Profile returns the caller's user record and link count.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())
	identity, _ := GetIdentityFromContext(r.Context())

	existingUser, err := h.userStore.GetByID(r.Context(), identity.UserID)
	if err != nil {
		logger.Error("failed to load profile", "error", err.Error())
		respondError(w, "failed to load profile", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	totalLinks, err := h.linkCounter.CountForUser(r.Context(), identity.UserID)
	if err != nil {
		logger.Warn("failed to count links", "error", err.Error())
	}

	respondJSON(w, ProfileResponse{
		User:        mapUserResponse(existingUser),
		MemberSince: existingUser.CreatedAt.Format("2006-01-02"),
		TotalLinks:  totalLinks,
	}, http.StatusOK)
}

// SendVerification mails a fresh verification link to the caller. The link
// is included in the response either way so it can be rendered as a
// manual-entry fallback.
func (h *Handler) SendVerification(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())
	identity, _ := GetIdentityFromContext(r.Context())

	link, err := h.service.RequestEmailVerification(r.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, ErrAlreadyVerified) {
			respondJSON(w, map[string]string{"message": "Email already verified"}, http.StatusOK)
			return
		}
		if errors.Is(err, ErrMailDelivery) {
			logger.Warn("verification mail delivery failed", "error", err.Error())
			respondJSON(w, VerificationResponse{
				Message:          "Email verification link could not be sent",
				VerificationLink: link,
			}, http.StatusBadGateway)
			return
		}
		logger.Error("failed to request email verification", "error", err.Error())
		respondError(w, "failed to send verification email", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("verification email sent")

	respondJSON(w, VerificationResponse{
		Message:          "Email verification link sent successfully",
		VerificationLink: link,
	}, http.StatusOK)
}

// VerifyEmail consumes a verification token. Works for both the clicked link
// (query parameters) and manual entry (form or JSON body); the email falls
// back to the authenticated identity when absent.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	token, email := verificationArgs(r)
	if email == "" {
		if identity, ok := GetIdentityFromContext(r.Context()); ok {
			email = identity.Email
		}
	}

	if token == "" || email == "" {
		respondError(w, "token and email are required", httputil.CodeVerificationFailed, http.StatusBadRequest)
		return
	}

	if err := h.service.ConfirmEmail(r.Context(), email, token); err != nil {
		if errors.Is(err, ErrInvalidEmailAddress) {
			logger.Warn("email verification failed: unknown email")
			respondError(w, "Invalid email address", httputil.CodeInvalidEmail, http.StatusBadRequest)
			return
		}
		if errors.Is(err, ErrInvalidVerificationToken) {
			logger.Warn("email verification failed: invalid or expired token")
			respondError(w, "Invalid or expired token", httputil.CodeVerificationFailed, http.StatusBadRequest)
			return
		}
		logger.Error("email verification failed: internal error", "error", err.Error())
		respondError(w, "failed to verify email", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("email verified successfully")

	respondJSON(w, map[string]string{"message": "Email verified successfully"}, http.StatusOK)
}

// verificationArgs pulls token and email from the query string first, then
// from a form or JSON body.
func verificationArgs(r *http.Request) (token, email string) {
	token = r.URL.Query().Get("token")
	email = r.URL.Query().Get("email")
	if token != "" {
		return token, email
	}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var body struct {
			Token string `json:"token"`
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			token, email = body.Token, body.Email
		}
		return token, email
	}

	if err := r.ParseForm(); err == nil {
		if token == "" {
			token = r.PostFormValue("token")
		}
		if email == "" {
			email = r.PostFormValue("email")
		}
	}
	return token, email
}

func mapUserResponse(u *user.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
	}
}

func isValidationError(err error) bool {
	for _, validationErr := range []error{
		ErrNameTooShort, ErrNameTooLong,
		ErrInvalidEmailFormat, ErrEmailTooLong,
		ErrPasswordTooShort, ErrPasswordTooLong, ErrPasswordNoSpecial,
	} {
		if errors.Is(err, validationErr) {
			return true
		}
	}
	return false
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

// respondError sends an error response with a machine-readable code
func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr format is "IP:port", extract just the IP
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
