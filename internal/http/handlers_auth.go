package http

import (
	"errors"
	"net/http"

	"ainopay/internal/core"
	"ainopay/internal/log"
	"ainopay/internal/middleware/authn"
	"ainopay/internal/services"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required,min=2,max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if rerr := decodeJSON(w, r, &req); rerr != nil {
		rerr.write(w)
		return
	}

	resp, err := s.svc.Auth.Register(r.Context(), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: sanitizeInput(req.FullName),
	})
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			ErrorResponse(http.StatusConflict, "Email already registered").Write(w)
			return
		}
		writeServiceError(w, r, err, log.OpCreate)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Message("User registered successfully").
		Data(resp).
		Write(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if rerr := decodeJSON(w, r, &req); rerr != nil {
		rerr.write(w)
		return
	}

	resp, err := s.svc.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err, log.OpLogin)
		return
	}
	NewJSONResponse().Message("Login successful").Data(resp).Write(w)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Auth.Me(r.Context(), authn.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			NotFoundError("User not found").Write(w)
			return
		}
		writeServiceError(w, r, err, log.OpRead)
		return
	}
	NewJSONResponse().Data(user).Write(w)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if rerr := decodeJSON(w, r, &req); rerr != nil {
		rerr.write(w)
		return
	}

	resp, err := s.svc.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTokenExpired):
			UnauthorizedError("Refresh token expired").Write(w)
		case errors.Is(err, core.ErrInvalidToken):
			UnauthorizedError("Invalid refresh token").Write(w)
		default:
			writeServiceError(w, r, err, log.OpRefresh)
		}
		return
	}
	NewJSONResponse().Message("Token refreshed successfully").Data(resp).Write(w)
}

// handleLogout is public: a client whose access token already expired can
// still revoke its refresh token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if rerr := decodeJSON(w, r, &req); rerr != nil {
		rerr.write(w)
		return
	}
	if err := s.svc.Auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeServiceError(w, r, err, log.OpDelete)
		return
	}
	NewJSONResponse().Message("Logged out successfully").Write(w)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if rerr := decodeJSON(w, r, &req); rerr != nil {
		rerr.write(w)
		return
	}
	if err := s.svc.Auth.ForgotPassword(r.Context(), req.Email); err != nil {
		// The answer never depends on whether the address is known.
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Forgot password failed", log.FieldError, err)
	}
	NewJSONResponse().
		Message("If the email exists, a password reset link has been sent").
		Write(w)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if rerr := decodeJSON(w, r, &req); rerr != nil {
		rerr.write(w)
		return
	}
	if err := s.svc.Auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeServiceError(w, r, err, log.OpUpdate)
		return
	}
	NewJSONResponse().Message("Password has been reset successfully").Write(w)
}
