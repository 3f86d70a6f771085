package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/wishlist-sync/internal/metrics"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestStatusRecorder(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
	}{
		{
			name:       "implicit 200 on write",
			write:      func(w http.ResponseWriter) { _, _ = w.Write([]byte("x")) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "explicit status",
			write:      func(w http.ResponseWriter) { w.WriteHeader(http.StatusConflict) },
			wantStatus: http.StatusConflict,
		},
		{
			name: "first status wins",
			write: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusNotFound)
				w.WriteHeader(http.StatusOK)
			},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			rr := httptest.NewRecorder()
			rec := record(rr)

			// Act
			tt.write(rec)

			// Assert
			if rec.status != tt.wantStatus {
				t.Errorf("recorded status = %d, want %d", rec.status, tt.wantStatus)
			}
			if rr.Code != tt.wantStatus {
				t.Errorf("written status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestRecord_ReusesRecorder(t *testing.T) {
	rec := record(httptest.NewRecorder())

	if record(rec) != rec {
		t.Error("record() should not wrap a recorder twice")
	}
	if rec.Unwrap() == nil {
		t.Error("Unwrap() returned nil")
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	rec := record(httptest.NewRecorder())

	if _, _, err := rec.Hijack(); err != http.ErrNotSupported {
		t.Errorf("Hijack() error = %v, want %v", err, http.ErrNotSupported)
	}
}

func TestChain_Order(t *testing.T) {
	// Arrange
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(tag("outer"), tag("inner"))(http.HandlerFunc(okHandler))

	// Act
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	// Assert
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v, want [outer inner]", order)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when absent", "", false},
		{"client id reused", "req-42", true},
		{"oversized id replaced", strings.Repeat("r", maxRequestIDLength+1), false},
		{"id with spaces replaced", "req 42", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			var fromCtx string
			h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fromCtx = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/lists", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rr := httptest.NewRecorder()

			// Act
			h.ServeHTTP(rr, req)

			// Assert
			got := rr.Header().Get(RequestIDHeader)
			if got == "" || got != fromCtx {
				t.Fatalf("response id %q, context id %q", got, fromCtx)
			}
			if (got == tt.incoming) != tt.keep {
				t.Errorf("id = %q, incoming %q, keep = %v", got, tt.incoming, tt.keep)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	// Arrange
	core, logs := observer.New(zap.ErrorLevel)
	before := testutil.ToFloat64(metrics.HTTPPanics)
	h := Recovery(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()

	// Act
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/items/I1", nil))

	// Assert
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	var body model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != http.StatusInternalServerError || body.Message == "" {
		t.Errorf("unexpected body %+v", body)
	}
	if logs.FilterMessage("handler panic").Len() != 1 {
		t.Error("panic should be logged once")
	}
	if got := testutil.ToFloat64(metrics.HTTPPanics) - before; got != 1 {
		t.Errorf("panic counter delta = %v, want 1", got)
	}
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if p := recover(); p != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", p)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestLogging_Levels(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string
	}{
		{"api request", "/api/v1/lists", http.StatusOK, "info"},
		{"health probe", "/health", http.StatusOK, "debug"},
		{"server error", "/api/v1/lists", http.StatusInternalServerError, "warn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			core, logs := observer.New(zap.DebugLevel)
			h := Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))

			// Act
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			// Assert
			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("got %d log entries, want 1", len(entries))
			}
			if entries[0].Level.String() != tt.wantLevel {
				t.Errorf("level = %s, want %s", entries[0].Level, tt.wantLevel)
			}
			if got := entries[0].ContextMap()["status"]; got != int64(tt.status) {
				t.Errorf("status field = %v, want %d", got, tt.status)
			}
		})
	}
}

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	// Arrange
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(Metrics()))
	router.HandleFunc("/api/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	counter := metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/items/{id}", "404")
	before := testutil.ToFloat64(counter)

	// Act
	for _, id := range []string{"a", "b", "c"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/items/"+id, nil))
	}

	// Assert
	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("counter delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.HTTPInFlight); got != 0 {
		t.Errorf("in-flight = %v, want 0", got)
	}
}

func TestCORS(t *testing.T) {
	opts := CORSOptions{
		AllowedOrigins: []string{"https://app.example"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut},
		AllowedHeaders: []string{UserHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         time.Hour,
	}

	tests := []struct {
		name            string
		opts            CORSOptions
		method          string
		origin          string
		preflight       bool
		wantStatus      int
		wantOrigin      string
		wantCredentials bool
		wantCalled      bool
	}{
		{
			name:            "listed origin",
			opts:            opts,
			method:          http.MethodGet,
			origin:          "https://app.example",
			wantStatus:      http.StatusOK,
			wantOrigin:      "https://app.example",
			wantCredentials: true,
			wantCalled:      true,
		},
		{
			name:       "unlisted origin",
			opts:       opts,
			method:     http.MethodGet,
			origin:     "https://evil.example",
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "wildcard reflects origin without credentials",
			opts:       CORSOptions{AllowedOrigins: []string{"*"}},
			method:     http.MethodGet,
			origin:     "http://localhost:3000",
			wantStatus: http.StatusOK,
			wantOrigin: "http://localhost:3000",
			wantCalled: true,
		},
		{
			name:            "preflight answered",
			opts:            opts,
			method:          http.MethodOptions,
			origin:          "https://app.example",
			preflight:       true,
			wantStatus:      http.StatusNoContent,
			wantOrigin:      "https://app.example",
			wantCredentials: true,
		},
		{
			name:       "plain OPTIONS passes through",
			opts:       opts,
			method:     http.MethodOptions,
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			called := false
			h := CORS(tt.opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				okHandler(w, r)
			}))
			req := httptest.NewRequest(tt.method, "/api/v1/items/I1/reservation", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPut)
			}
			rr := httptest.NewRecorder()

			// Act
			h.ServeHTTP(rr, req)

			// Assert
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("next called = %v, want %v", called, tt.wantCalled)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCredentials {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCredentials)
			}
			if tt.preflight {
				if got := rr.Header().Get("Access-Control-Allow-Headers"); got != UserHeader {
					t.Errorf("Allow-Headers = %q, want %q", got, UserHeader)
				}
				if got := rr.Header().Get("Access-Control-Max-Age"); got != "3600" {
					t.Errorf("Max-Age = %q, want 3600", got)
				}
			}
		})
	}
}

func TestChain_FullStack(t *testing.T) {
	// Arrange
	logger := zap.NewNop()
	h := Chain(
		Recovery(logger),
		RequestID(),
		Metrics(),
		CORS(CORSOptions{AllowedOrigins: []string{"*"}}),
		Identity(logger),
		Logging(logger),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestIDFromContext(r.Context()) == "" {
			t.Error("request id missing from context")
		}
		if got := UserFromContext(r.Context()); got != "device-1" {
			t.Errorf("UserFromContext() = %q, want device-1", got)
		}
		okHandler(w, r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/lists?owner=device-1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set(UserHeader, "device-1")
	rr := httptest.NewRecorder()

	// Act
	h.ServeHTTP(rr, req)

	// Assert
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("response should carry a request id")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("response should carry CORS headers")
	}
}
