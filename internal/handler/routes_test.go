package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"rc-relay/internal/client"
	"rc-relay/internal/config"
	"rc-relay/internal/service"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Relay:  config.RelayConfig{DefaultTimeoutSeconds: 5, MaxTimeoutSeconds: 10, IdleConnections: 4},
		Verify: config.VerifyConfig{BaseURL: upstream.URL + "/", TimeoutSeconds: 5},
	}
	logger := discardLogger()

	eg, err := client.NewEgress(cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewEgress: %v", err)
	}
	vc, err := client.NewVerifyClient(cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewVerifyClient: %v", err)
	}

	relay := NewRelayHandler(service.NewRelay(eg, cfg, logger, nil), logger)
	auth := NewAuthHandler(service.NewAuthService(vc, logger), logger)
	health := NewHealthHandler(cfg, "test")

	e := echo.New()
	RegisterRoutes(e, relay, auth, health)

	descriptor := `{"url":"` + upstream.URL + `/api/v1/rc_verify","method":"GET"}`
	login := `{"username":"ops","password":"pw","otp":"1"}`

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", "", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", "", http.StatusOK},
		{"GET /api/Proxy/health", http.MethodGet, "/api/Proxy/health", "", http.StatusOK},
		{"GET /api/proxy/health", http.MethodGet, "/api/proxy/health", "", http.StatusOK},
		{"POST /api/Proxy/request", http.MethodPost, "/api/Proxy/request", descriptor, http.StatusOK},
		{"POST /api/proxy/request", http.MethodPost, "/api/proxy/request", descriptor, http.StatusOK},
		{"POST /login_otp", http.MethodPost, "/login_otp", login, http.StatusOK},
		{"POST /login_verify_otp", http.MethodPost, "/login_verify_otp", login, http.StatusOK},
		{"GET /api/Proxy/request is 405", http.MethodGet, "/api/Proxy/request", "", http.StatusMethodNotAllowed},
		{"GET /unknown returns 404", http.MethodGet, "/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
