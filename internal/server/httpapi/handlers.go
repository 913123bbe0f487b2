package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Gate is the part of services.AuthService used by the HTTP layer.
type Gate interface {
	Login(ctx context.Context, username, password string) (*models.AccessToken, error)
	CurrentActiveUser(ctx context.Context, token string) (*models.User, error)
}

// Resetter is the part of services.ResetService used by the HTTP layer.
type Resetter interface {
	RequestReset(ctx context.Context, email string) error
	RedeemReset(ctx context.Context, userID int64, token, newPassword string) (bool, error)
}

// UserLister is the part of services.UserService used by the HTTP layer.
type UserLister interface {
	ListUsers(ctx context.Context, caller *models.User) ([]*models.User, error)
}

const (
	msgResetSent      = "Password reset mail successfully sent."
	msgPasswordSet    = "Password successfully changed."
	msgPasswordNotSet = "An error occurred while trying to change the password."
)

type handlers struct {
	gate     Gate
	resetter Resetter
	users    UserLister
	logger   logging.Logger
}

// login handles POST /auth/token with form fields username and password.
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid form body")
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if username == "" || password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	tok, err := h.gate.Login(r.Context(), username, password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, tok)
	case errors.Is(err, common.ErrUserNotFound):
		writeDetail(w, http.StatusNotFound, "There is no user with this email.")
	case errors.Is(err, common.ErrAccountDisabled):
		writeDetail(w, http.StatusUnprocessableEntity, "This user has been disabled. Login is not possible.")
	case errors.Is(err, common.ErrInvalidCredentials):
		writeUnauthorized(w, "Wrong password.")
	default:
		h.logger.Error(r.Context(), "login failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

type resetRequest struct {
	Email string `json:"email"`
}

func (h *handlers) requestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "email is required")
		return
	}

	err := h.resetter.RequestReset(r.Context(), req.Email)
	switch {
	case err == nil:
		writeDetail(w, http.StatusOK, msgResetSent)
	case errors.Is(err, common.ErrUserNotFound):
		writeDetail(w, http.StatusNotFound, "There is no user with this email.")
	default:
		h.logger.Error(r.Context(), "password reset request failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Password reset mail could not be sent.")
	}
}

type setPasswordRequest struct {
	UserID      int64  `json:"user_id"`
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

func (h *handlers) setNewPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	ok, err := h.resetter.RedeemReset(r.Context(), req.UserID, req.ResetToken, req.NewPassword)
	if err == nil && !ok {
		err = common.ErrResetFailed
	}
	switch {
	case errors.Is(err, common.ErrResetFailed):
		h.logger.Info(r.Context(), "password reset rejected", "user_id", req.UserID)
	case err != nil:
		h.logger.Error(r.Context(), "password reset redemption failed", "user_id", req.UserID, "error", err)
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, msgPasswordNotSet)
		return
	}
	writeDetail(w, http.StatusOK, msgPasswordSet)
}

// adminUserView is what super admins see in the user list.
type adminUserView struct {
	ID         int64  `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	SuperAdmin bool   `json:"super_admin"`
	Disabled   bool   `json:"disabled"`
}

// publicUserView is what other users see.
type publicUserView struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Disabled  bool   `json:"disabled"`
}

func toAdminView(u *models.User) adminUserView {
	return adminUserView{
		ID:         u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Email:      u.Email,
		SuperAdmin: u.SuperAdmin,
		Disabled:   u.Disabled,
	}
}

func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromContext(r.Context())

	list, err := h.users.ListUsers(r.Context(), caller)
	if err != nil {
		h.logger.Error(r.Context(), "listing users failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if caller.SuperAdmin {
		out := make([]adminUserView, 0, len(list))
		for _, u := range list {
			out = append(out, toAdminView(u))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	out := make([]publicUserView, 0, len(list))
	for _, u := range list {
		out = append(out, publicUserView{FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, Disabled: u.Disabled})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, toAdminView(caller))
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
