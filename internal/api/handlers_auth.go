package api

import (
	"errors"
	"net/http"

	"omniavatar/server/internal/auth"
	"omniavatar/server/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	cookieMaxAge      = 60 * 60 * 24 * 7
	minSignupPassword = 8
)

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) signIn(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}
	account, token, err := s.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) || errors.Is(err, auth.ErrInvalidInput) {
			writeError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
			return
		}
		s.log.Error("sign in failed", "trace_id", traceIDFromContext(c), "error", err)
		writeInternal(c, "Internal server error")
		return
	}
	s.setAuthCookie(c, token)
	writeData(c, http.StatusOK, "Signed in successfully", gin.H{"user": account})
}

type signUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName" binding:"required"`
}

func (s *Server) signUp(c *gin.Context) {
	if !requireJSON(c) {
		return
	}
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "All fields are required")
		return
	}
	if len(req.Password) < minSignupPassword {
		writeError(c, http.StatusBadRequest, "WEAK_PASSWORD", "Password must be at least 8 characters")
		return
	}
	account, token, err := s.auth.SignUp(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "All fields are required")
		case errors.Is(err, store.ErrConflict):
			writeError(c, http.StatusConflict, "EMAIL_TAKEN", "An account with this email already exists")
		default:
			s.log.Error("sign up failed", "trace_id", traceIDFromContext(c), "error", err)
			writeInternal(c, "Internal server error")
		}
		return
	}
	s.setAuthCookie(c, token)
	writeData(c, http.StatusOK, "Account created successfully", gin.H{"user": account})
}

func (s *Server) signOut(c *gin.Context) {
	if err := s.auth.SignOut(c.Request.Context(), tokenFromRequest(c)); err != nil {
		s.log.Warn("sign out failed", "trace_id", traceIDFromContext(c), "error", err)
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(authCookie, "", -1, "/", "", s.opts.SecureCookies, true)
	writeData(c, http.StatusOK, "Signed out successfully", nil)
}

func (s *Server) me(c *gin.Context) {
	writeData(c, http.StatusOK, "", gin.H{"user": accountFromContext(c)})
}

func (s *Server) setAuthCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(authCookie, token, cookieMaxAge, "/", "", s.opts.SecureCookies, true)
}
