package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	ToEmail string `json:"to_email" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		ok         bool
		wantFields map[string]string
	}{
		{name: "valid", body: `{"to_email":"a@example.com","subject":"hi"}`, ok: true},
		{name: "malformed", body: `{"to_email":`, ok: false},
		{
			name:       "missing and invalid fields",
			body:       `{"to_email":"not-an-email"}`,
			ok:         false,
			wantFields: map[string]string{"to_email": "email", "subject": "required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			var dst sampleRequest
			assert.Equal(t, tt.ok, Decode(rec, req, &dst))
			if tt.ok {
				assert.Equal(t, "a@example.com", dst.ToEmail)
				return
			}

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			if tt.wantFields != nil {
				var resp struct {
					Code    string            `json:"code"`
					Details map[string]string `json:"details"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "validation_error", resp.Code)
				assert.Equal(t, tt.wantFields, resp.Details)
			}
		})
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(rec, errors.New("dial tcp 10.0.0.1:9092: refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")
}
