package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler serves the /api/auth routes
type Handler struct {
	service *Service
	tokens  *TokenService
	secure  bool // Secure cookies; false in development
	log     zerolog.Logger
}

// NewHandler creates a new auth handler
func NewHandler(service *Service, tokens *TokenService, secure bool, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		tokens:  tokens,
		secure:  secure,
		log:     log.With().Str("handler", "auth").Logger(),
	}
}

// RegisterRoutes mounts the public auth routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.HandleRegister)
	r.Post("/login", h.HandleLogin)
	r.Post("/refresh", h.HandleRefresh)
	r.Post("/logout", h.HandleLogout)
}

// RegisterProtectedRoutes mounts the routes that need a valid access token
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/me", h.HandleMe)
	r.Put("/me", h.HandleUpdateMe)
	r.Put("/password", h.HandleChangePassword)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// HandleRegister creates an account and issues the first session
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, pair, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrEmailTaken):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.log.Error().Err(err).Msg("Registration failed")
			h.writeError(w, http.StatusInternalServerError, "Registration failed")
		}
		return
	}

	h.setSessionCookies(w, pair)
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":         user,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

// HandleLogin verifies credentials and issues a session
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.log.Error().Err(err).Msg("Login failed")
		h.writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	h.setSessionCookies(w, pair)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":         user,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HandleRefresh rotates the refresh token and issues a new pair
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token := h.refreshTokenFrom(r)
	if token == "" {
		h.writeError(w, http.StatusUnauthorized, "Refresh token not found or expired")
		return
	}

	user, pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrUserNotFound) {
			h.writeError(w, http.StatusUnauthorized, "Refresh token not found or expired")
			return
		}
		h.log.Error().Err(err).Msg("Token refresh failed")
		h.writeError(w, http.StatusInternalServerError, "Token refresh failed")
		return
	}

	h.setSessionCookies(w, pair)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":         user,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

// HandleLogout revokes the session and clears cookies
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), h.refreshTokenFrom(r))
	h.clearSessionCookies(w)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleMe returns the authenticated user
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.repo.GetUser(UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "User not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": user})
}

type updateMeRequest struct {
	Name string `json:"name"`
}

// HandleUpdateMe updates the user profile
func (h *Handler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	userID := UserID(r.Context())
	if err := h.service.repo.UpdateName(userID, req.Name); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}
	user, err := h.service.repo.GetUser(userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": user})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// HandleChangePassword rotates the password verifier and revokes all sessions
func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.service.ChangePassword(r.Context(), UserID(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, ErrWeakPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrInvalidCredentials):
			h.writeError(w, http.StatusUnauthorized, "Current password is incorrect")
		default:
			h.log.Error().Err(err).Msg("Password change failed")
			h.writeError(w, http.StatusInternalServerError, "Password change failed")
		}
		return
	}

	h.clearSessionCookies(w)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// refreshTokenFrom reads the refresh token from the cookie or the body
func (h *Handler) refreshTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie("refreshToken"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, pair *TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     "accessToken",
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(h.tokens.AccessTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "refreshToken",
		Value:    pair.RefreshToken,
		Path:     "/api/auth",
		MaxAge:   int(h.tokens.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name: "accessToken", Value: "", Path: "/", MaxAge: -1,
		HttpOnly: true, Secure: h.secure, SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: "refreshToken", Value: "", Path: "/api/auth", MaxAge: -1,
		HttpOnly: true, Secure: h.secure, SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
