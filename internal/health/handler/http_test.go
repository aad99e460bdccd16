package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHealth_NeverRunsChecks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	called := false
	h := NewHandler("account-relay", nil, Check{Name: "store", Check: func(context.Context) error {
		called = true
		return errors.New("down")
	}})
	r := gin.New()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["service"] != "account-relay" {
		t.Errorf("body = %v", body)
	}
	if called {
		t.Error("/health must not touch dependencies")
	}
}

func TestReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := Check{Name: "store", Check: func(context.Context) error { return nil }}
	bad := Check{Name: "policy", Check: func(context.Context) error { return errors.New("compile failed") }}

	testCases := []struct {
		name   string
		checks []Check
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"all ok", []Check{ok}, http.StatusOK},
		{"one failing", []Check{ok, bad}, http.StatusServiceUnavailable},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			NewHandler("account-relay", nil, tc.checks...).RegisterRoutes(r)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}
