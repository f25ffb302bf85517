package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/ignite/mailtrack/internal/pkg/logger"
)

// maxBodyBytes caps request bodies read by Decode.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// JSON writes data with the given status code. Encoding failures are
// logged; the status line has already been sent by then.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("json encode failed", "error", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Error writes a JSON error response. Use for client errors (4xx).
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// InternalError logs err and writes a generic 500.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// Decode reads JSON from the request body into dst and validates it
// against its `validate` tags. Returns false after writing a 400 if either
// step fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			JSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation failed",
				Code:    "validation_error",
				Details: fieldErrors(verrs),
			})
			return false
		}
		BadRequest(w, err.Error())
		return false
	}
	return true
}

// fieldErrors maps each failing field to a short reason, keyed by the
// field's json name.
func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		out[jsonName(fe)] = reason
	}
	return out
}

func jsonName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func init() {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}
