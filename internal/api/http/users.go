package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
	"github.com/kalimotxo/enginewatch/internal/api/identity"
	"github.com/kalimotxo/enginewatch/internal/api/service"
	"github.com/kalimotxo/enginewatch/pkg/httpx"
)

// UsersHandler handles the authenticated user endpoints.
type UsersHandler struct {
	Provider    identity.Provider
	UserService *service.UserService
}

type userResponse struct {
	ID               int64      `json:"id"`
	ProviderID       string     `json:"provider_id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	Active           bool       `json:"active"`
	ProfileCompleted bool       `json:"profile_completed"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

func userResponseFrom(u domain.User) userResponse {
	return userResponse{
		ID:               u.ID,
		ProviderID:       u.ProviderID,
		Username:         u.Username,
		Email:            u.Email,
		Active:           u.Active,
		ProfileCompleted: u.ProfileCompleted,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// HandleMe returns the caller's mirrored user row together with the
// roles decoded from the token.
func (h *UsersHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, struct {
		userResponse
		Roles []string `json:"roles"`
	}{
		userResponse: userResponseFrom(user),
		Roles:        httpx.RolesFromContext(r.Context()),
	})
}

type profileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// HandleProfile pushes the profile fields to the provider and marks the
// local mirror's profile as completed.
func (h *UsersHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}
	user, _ := userFromContext(r.Context())

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		(req.FirstName == "" && req.LastName == "") {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "first_name or last_name is required")
		return
	}

	fields := map[string]any{}
	if req.FirstName != "" {
		fields["firstName"] = req.FirstName
	}
	if req.LastName != "" {
		fields["lastName"] = req.LastName
	}

	if _, err := h.Provider.UpdateUser(r.Context(), ident.ID, fields); err != nil {
		writeDomainError(w, r, err)
		return
	}

	updated, err := h.UserService.CompleteProfile(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, userResponseFrom(updated))
}

// HandleList returns every mirrored user. Restricted to admins by the
// route's role middleware.
func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.UserService.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponseFrom(u))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
