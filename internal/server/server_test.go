package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/config"
	"github.com/vyrodovalexey/wishlist-sync/internal/handler"
	"github.com/vyrodovalexey/wishlist-sync/internal/middleware"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
	"github.com/vyrodovalexey/wishlist-sync/internal/store"
)

func testConfig(port int, metrics bool) *config.Config {
	return &config.Config{
		ServerPort:         port,
		LogLevel:           "info",
		ShutdownTimeout:    5 * time.Second,
		MetricsEnabled:     metrics,
		StoreBackend:       config.BackendMemory,
		FeedBufferSize:     config.DefaultFeedBufferSize,
		CORSAllowedOrigins: "*",
	}
}

func newTestServer(t *testing.T, metrics bool) *Server {
	t.Helper()
	return New(testConfig(8080, metrics), zap.NewNop(), store.NewMemoryStore())
}

func TestNew(t *testing.T) {
	// Act
	server := newTestServer(t, true)

	// Assert
	if server == nil {
		t.Fatal("New() returned nil")
	}
	if server.router == nil {
		t.Error("router should not be nil")
	}
	if server.httpServer == nil {
		t.Error("httpServer should not be nil")
	}
	if server.wsHandler == nil {
		t.Error("wsHandler should not be nil")
	}
	if server.Router() != server.router {
		t.Error("Router() should return the server's router")
	}
}

func TestNew_MetricsEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		wantStatus int
	}{
		{name: "enabled", enabled: true, wantStatus: http.StatusOK},
		{name: "disabled", enabled: false, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			server := newTestServer(t, tt.enabled)
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			rr := httptest.NewRecorder()

			// Act
			server.router.ServeHTTP(rr, req)

			// Assert
			if rr.Code != tt.wantStatus {
				t.Errorf("/metrics status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestServer_UnmatchedRoutes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{name: "unknown root path", method: http.MethodGet, path: "/nope", wantStatus: http.StatusNotFound},
		{name: "unknown api path", method: http.MethodGet, path: "/api/v1/unknown", wantStatus: http.StatusNotFound},
		{name: "extra segment", method: http.MethodGet, path: "/api/v1/items/x/extra", wantStatus: http.StatusNotFound},
		{name: "delete unknown path", method: http.MethodDelete, path: "/nope", wantStatus: http.StatusNotFound},
		{name: "wrong method", method: http.MethodGet, path: "/api/v1/items/x/reservation", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			server := newTestServer(t, false)
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()

			// Act
			server.router.ServeHTTP(rr, req)

			// Assert
			if rr.Code != tt.wantStatus {
				t.Fatalf("%s %s status = %d, want %d", tt.method, tt.path, rr.Code, tt.wantStatus)
			}
			var body model.ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Code != tt.wantStatus || body.Message == "" {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	// Arrange
	server := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	// Act
	server.router.ServeHTTP(rr, req)

	// Assert
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", ct)
	}

	var response model.APIResponse[handler.HealthResponse]
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !response.Success {
		t.Error("health check should return success")
	}
	if response.Data.Backend != config.BackendMemory {
		t.Errorf("backend = %s, want %s", response.Data.Backend, config.BackendMemory)
	}
}

func TestServer_ListAndItemFlow(t *testing.T) {
	// Arrange
	server := newTestServer(t, false)

	do := func(method, path, user string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if user != "" {
			req.Header.Set(middleware.UserHeader, user)
		}
		rr := httptest.NewRecorder()
		server.router.ServeHTTP(rr, req)
		return rr
	}

	// Act: the owner comes from the identity header.
	rr := do(http.MethodPost, "/api/v1/lists", "owner-1", model.CreateListRequest{Title: "Birthday"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create list status = %d, want %d", rr.Code, http.StatusCreated)
	}
	var created model.APIResponse[model.WishList]
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode list: %v", err)
	}

	rr = do(http.MethodPost, "/api/v1/lists/"+created.Data.ID+"/items", "owner-1", model.CreateItemRequest{Name: "Bike"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create item status = %d, want %d", rr.Code, http.StatusCreated)
	}

	rr = do(http.MethodGet, "/api/v1/lists?owner=owner-1", "", nil)

	// Assert
	if rr.Code != http.StatusOK {
		t.Fatalf("query lists status = %d, want %d", rr.Code, http.StatusOK)
	}
	var lists model.APIResponse[[]model.WishList]
	if err := json.NewDecoder(rr.Body).Decode(&lists); err != nil {
		t.Fatalf("decode lists: %v", err)
	}
	if len(lists.Data) != 1 || lists.Data[0].OwnerID != "owner-1" {
		t.Errorf("lists = %+v, want one list owned by owner-1", lists.Data)
	}
}

func TestServer_MalformedIdentityRejected(t *testing.T) {
	// Arrange
	server := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/lists?owner=x", nil)
	req.Header.Set(middleware.UserHeader, "two words")
	rr := httptest.NewRecorder()

	// Act
	server.router.ServeHTTP(rr, req)

	// Assert
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestServer_MiddlewareApplied(t *testing.T) {
	// Arrange
	server := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()

	// Act
	server.router.ServeHTTP(rr, req)

	// Assert
	if rr.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("X-Request-ID header should be set by middleware")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("CORS headers should be set by middleware")
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	// Arrange
	server := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/items/I1/reservation", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rr := httptest.NewRecorder()

	// Act
	server.router.ServeHTTP(rr, req)

	// Assert
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), middleware.UserHeader) {
		t.Errorf("Access-Control-Allow-Headers = %q, want it to include %s",
			rr.Header().Get("Access-Control-Allow-Headers"), middleware.UserHeader)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch) {
		t.Error("PATCH should be an allowed method")
	}
}

func TestServer_WebSocketEndpoint(t *testing.T) {
	// Arrange
	server := newTestServer(t, false)
	ts := httptest.NewServer(server.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	// Act
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	// Assert
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusSwitchingProtocols)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello model.WebSocketMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != model.WSMessageTypeHello {
		t.Errorf("first message type = %s, want %s", hello.Type, model.WSMessageTypeHello)
	}
}

func TestServer_HTTPServerConfiguration(t *testing.T) {
	// Act
	server := newTestServer(t, true)

	// Assert
	if server.httpServer.Addr != ":8080" {
		t.Errorf("httpServer.Addr = %s, want :8080", server.httpServer.Addr)
	}
	if server.httpServer.ReadHeaderTimeout != 5*time.Second {
		t.Errorf("httpServer.ReadHeaderTimeout = %v, want 5s", server.httpServer.ReadHeaderTimeout)
	}
	if server.httpServer.MaxHeaderBytes != 1<<20 {
		t.Errorf("httpServer.MaxHeaderBytes = %d, want %d", server.httpServer.MaxHeaderBytes, 1<<20)
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	// Arrange
	server := New(testConfig(18091, false), zap.NewNop(), store.NewMemoryStore())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	time.Sleep(100 * time.Millisecond)

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(ctx)

	// Assert
	if err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	select {
	case startErr := <-errCh:
		if startErr != nil {
			t.Errorf("Start() error = %v, want nil after shutdown", startErr)
		}
	case <-time.After(5 * time.Second):
		t.Error("Start() did not return after Shutdown")
	}
}
