package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// authFailed is the single message for unknown identifiers and wrong
// passwords.
const authFailed = "invalid credentials"

type errorResponse struct {
	Error string `json:"error"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON body into v and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", common.ErrInvalidField)
	}

	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", common.ErrInvalidField, err)
	}

	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		} else {
			invalid = append(invalid, fe.Field())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", common.ErrMissingField, strings.Join(missing, ", "))
	}
	return fmt.Errorf("%w: %s", common.ErrInvalidField, strings.Join(invalid, ", "))
}

// errorStatus maps a service error to a status code and a message that is
// safe to show to the client.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrUserNotFound), errors.Is(err, common.ErrInvalidCredentials):
		return http.StatusUnauthorized, authFailed
	case errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, "token expired"
	case errors.Is(err, common.ErrTokenInvalid):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, common.Err2FAInvalidCode):
		return http.StatusUnauthorized, "invalid second factor code"
	case errors.Is(err, common.Err2FANotEnrolled):
		return http.StatusBadRequest, "second factor not enrolled"
	case errors.Is(err, common.ErrMissingField), errors.Is(err, common.ErrInvalidField):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrAlreadyExistsRemote):
		return http.StatusConflict, common.ErrAlreadyExistsRemote.Error()
	case errors.Is(err, common.ErrAlreadyExists):
		return http.StatusConflict, common.ErrAlreadyExists.Error()
	case errors.Is(err, common.ErrDirectoryWriteFailed):
		return http.StatusBadGateway, common.ErrDirectoryWriteFailed.Error()
	case errors.Is(err, common.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, common.ErrBackendUnavailable.Error()
	case errors.Is(err, common.ErrStoreWriteFailed):
		return http.StatusInternalServerError, common.ErrStoreWriteFailed.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		h.logger.Debug(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, msg)
}

func messages(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
