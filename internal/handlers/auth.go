package handlers

import (
	"errors"
	"net/http"

	"github.com/reviewboard/reviewboard-sub003/internal/services"

	"github.com/gin-gonic/gin"
)

// AuthHandler exposes the authentication API over HTTP.
type AuthHandler struct {
	authService *services.AuthService
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// LoginRequest is the JSON payload for password authentication.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse is the JSON view of an authenticated user.
type UserResponse struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	IsActive  bool   `json:"is_active"`
}

// Login authenticates a username/password pair against the enabled
// backends. All failures come back as the same 401: a caller cannot
// learn which backend or stage rejected the attempt.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := h.authService.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, UserResponse{
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		IsActive:  user.IsActive,
	})
}

// LoginCertificate authenticates the TLS client certificate on the
// current connection via the X.509 backend.
func (h *AuthHandler) LoginCertificate(c *gin.Context) {
	tlsState := c.Request.TLS
	if tlsState == nil || len(tlsState.PeerCertificates) == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	user, err := h.authService.AuthenticateCertificate(c.Request.Context(), tlsState.PeerCertificates[0])
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, UserResponse{
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		IsActive:  user.IsActive,
	})
}

// ListBackends returns the enabled backends and their capabilities, in
// registry order.
func (h *AuthHandler) ListBackends(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"backends": h.authService.Backends()})
}

// UpdatePasswordRequest is the JSON payload for a password change.
type UpdatePasswordRequest struct {
	Username    string `json:"username" binding:"required"`
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// UpdatePassword changes a password through the primary backend. The
// old password must still authenticate.
func (h *AuthHandler) UpdatePassword(c *gin.Context) {
	var req UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, old_password and new_password are required"})
		return
	}

	user, err := h.authService.Authenticate(c.Request.Context(), req.Username, req.OldPassword)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if err := h.authService.UpdatePassword(user, req.NewPassword); err != nil {
		respondMutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

// UpdateNameRequest is the JSON payload for a name change.
type UpdateNameRequest struct {
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// UpdateName changes a user's name through the primary backend.
func (h *AuthHandler) UpdateName(c *gin.Context) {
	var req UpdateNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := h.authService.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if err := h.authService.UpdateName(user, req.FirstName, req.LastName); err != nil {
		respondMutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "name updated"})
}

// UpdateEmailRequest is the JSON payload for an email change.
type UpdateEmailRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email" binding:"required"`
}

// UpdateEmail changes a user's email through the primary backend.
func (h *AuthHandler) UpdateEmail(c *gin.Context) {
	var req UpdateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, password and email are required"})
		return
	}

	user, err := h.authService.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if err := h.authService.UpdateEmail(user, req.Email); err != nil {
		respondMutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "email updated"})
}

func respondMutationError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrNotSupported) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "not supported by the primary backend"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
}
