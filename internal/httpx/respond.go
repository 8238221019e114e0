package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
	"github.com/ariefcatur/go-menu-orders/internal/logger"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	code, msg := apperr.Public(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), slog.Default()).Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation(apperr.CodeInvalidInput, "invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return apperr.Validation(apperr.CodeInvalidInput, "%s", describe(ve))
		}
		return apperr.Validation(apperr.CodeInvalidInput, "%v", err)
	}
	return nil
}

func describe(ve validator.ValidationErrors) string {
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		var m string
		switch fe.Tag() {
		case "required":
			m = "is required"
		case "gt", "gte", "min":
			m = fmt.Sprintf("must be at least %s", fe.Param())
		case "max", "lte":
			m = fmt.Sprintf("must be at most %s", fe.Param())
		default:
			m = fmt.Sprintf("failed on '%s'", fe.Tag())
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", fe.Field(), m))
	}
	return strings.Join(msgs, "; ")
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(apperr.CodeInvalidInput, "invalid %s %q", name, raw)
	}
	return id, nil
}
