package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exam-engine/internal/model"
)

func TestValidAnswerPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"string", `"A"`, true},
		{"array", `["A","C"]`, true},
		{"object", `{"text":"photosynthesis"}`, true},
		{"number", `3`, true},
		{"padded", "  \"A\"\n", true},
		{"null", `null`, false},
		{"padded null", ` null `, false},
		{"empty", ``, false},
		{"broken", `{"text":`, false},
		{"oversized", `"` + strings.Repeat("x", MaxAnswerPayloadBytes) + `"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidAnswerPayload([]byte(tt.raw)); got != tt.want {
				t.Fatalf("ValidAnswerPayload(%.20q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBind_SaveAnswerRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup()

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"valid", `{"payload":"A"}`, ""},
		{"missing", `{}`, "payload"},
		{"null", `{"payload":null}`, "payload"},
		{"malformed body", `{"payload":`, "detail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodPut, "/", strings.NewReader(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var req model.SaveAnswerRequest
			fields := Bind(c, &req)
			if tt.wantField == "" {
				if fields != nil {
					t.Fatalf("unexpected errors: %v", fields)
				}
				return
			}
			if _, ok := fields[tt.wantField]; !ok {
				t.Fatalf("fields = %v, want a %q entry", fields, tt.wantField)
			}
		})
	}
}
