package serve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirino/sms-service/internal/config"
	"github.com/chirino/sms-service/internal/modem"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	modems []modem.Modem
}

func (s *staticSource) ListModems(ctx context.Context) ([]modem.Modem, error) {
	return s.modems, nil
}

func (s *staticSource) ListMessages(ctx context.Context, m modem.Modem) ([]modem.Message, error) {
	return nil, nil
}

func (s *staticSource) DeleteMessage(ctx context.Context, m modem.Modem, messagePath string) error {
	return nil
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DBURL = ":memory:"
	cfg.Listener.Port = 0 // OS-assigned
	cfg.PollDisabled = true

	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	source := &staticSource{modems: []modem.Modem{
		{Path: "/org/freedesktop/ModemManager1/Modem/0", IMEI: "356938035643809"},
	}}
	srv, err := StartServer(ctx, &cfg, source)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	})
	return srv
}

func TestStartServerServesQueryAndManagementRoutes(t *testing.T) {
	srv := startTestServer(t)

	for path, wantCode := range map[string]int{
		"/v1/messages": http.StatusOK,
		"/health":      http.StatusOK,
		"/ready":       http.StatusOK,
		"/metrics":     http.StatusOK,
		"/modems":      http.StatusOK,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		srv.Router.ServeHTTP(rec, req)
		require.Equal(t, wantCode, rec.Code, "path %s", path)
	}
}

func TestModemsRouteReturnsSource(t *testing.T) {
	srv := startTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/modems", nil)
	srv.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool          `json:"success"`
		Data    []modem.Modem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Len(t, body.Data, 1)
	require.Equal(t, "356938035643809", body.Data[0].IMEI)
}
