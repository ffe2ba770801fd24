package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/auth"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
)

const healthTimeout = 2 * time.Second

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token          string    `json:"token"`
	Role           string    `json:"role"`
	FactorRequired bool      `json:"factor_required"`
	IdentityID     string    `json:"identity_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type enrollRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	Format     string `json:"format" validate:"omitempty,oneof=json qr"`
}

type enrollResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

type verifyRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Code       string `json:"code" validate:"required"`
}

type verifyResponse struct {
	Status    string    `json:"status"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type statusResponse struct {
	Enabled              bool `json:"enabled"`
	CompletedThisSession bool `json:"completed_this_session"`
}

type tokenResponse struct {
	IdentityID string    `json:"identity_id"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Pending2FA bool      `json:"pending_2fa"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required"`
	Username string `json:"username"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

type userResponse struct {
	IdentityID string   `json:"identity_id"`
	Email      string   `json:"email"`
	Username   string   `json:"username,omitempty"`
	Role       string   `json:"role"`
	DN         string   `json:"dn"`
	Warnings   []string `json:"warnings"`
}

type deleteResponse struct {
	Deleted  string   `json:"deleted"`
	DN       string   `json:"dn"`
	Warnings []string `json:"warnings"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn(ctx, "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.authn.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:          res.Token,
		Role:           res.Identity.Role,
		FactorRequired: res.FactorRequired,
		IdentityID:     res.Identity.ID,
		ExpiresAt:      res.ExpiresAt,
	})
}

func (h *handler) enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	e, err := h.second.Enroll(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if req.Format == "qr" {
		png, err := h.second.QRCode(e.Secret, e.Identity.Email)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, enrollResponse{Secret: e.Secret, ProvisioningURI: e.ProvisioningURI})
}

// verifySecondFactor only accepts a code for the identity the bearer token
// was issued to, so a code alone never yields a full session.
func (h *handler) verifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.authn.Resolve(r.Context(), req.Identifier)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Kind == services.NotFound {
		h.fail(w, r, common.ErrUserNotFound)
		return
	}
	if res.Identity.ID != identityFrom(r.Context()).ID {
		writeError(w, http.StatusForbidden, "token does not belong to this identity")
		return
	}

	v, err := h.second.Verify(r.Context(), req.Identifier, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Status: "success", Token: v.Token, ExpiresAt: v.ExpiresAt})
}

func (h *handler) secondFactorStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.second.Status(r.Context(), identityFrom(r.Context()).Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Enabled: st.Enabled, CompletedThisSession: st.CompletedThisSession})
}

func (h *handler) verifyToken(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	identity := identityFrom(r.Context())

	resp := tokenResponse{
		IdentityID: identity.ID,
		Email:      identity.Email,
		Role:       identity.Role,
		Pending2FA: claims.Pending2FA,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.prov.Create(r.Context(), services.CreateRequest{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		IdentityID: res.Identity.ID,
		Email:      res.Identity.Email,
		Username:   res.Identity.Username,
		Role:       res.Identity.Role,
		DN:         res.DN,
		Warnings:   messages(res.Warnings),
	})
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	res, err := h.prov.Delete(r.Context(), identifier)
	if err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "identity not found")
			return
		}
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{
		Deleted:  res.Identity.ID,
		DN:       res.DN,
		Warnings: messages(res.Warnings),
	})
}

func (h *handler) getDashboard(w http.ResponseWriter, r *http.Request) {
	panels, err := h.dashboards.Get(r.Context(), identityFrom(r.Context()).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(panels)
}

func (h *handler) saveDashboard(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", common.ErrInvalidField, err))
		return
	}

	if err := h.dashboards.Save(r.Context(), identityFrom(r.Context()).ID, body); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
