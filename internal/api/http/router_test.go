package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/api/http/handlers"
	"github.com/routedesk/routing-engine/internal/app"
	"github.com/routedesk/routing-engine/internal/auth"
	"github.com/routedesk/routing-engine/internal/config"
)

type testServer struct {
	app       *fiber.App
	tokens    *auth.TokenManager
	container *app.Container
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		App:  config.AppConfig{Name: "routing-engine", Version: "test"},
		Auth: config.AuthConfig{JWTSecret: "test-secret", Issuer: "routing"},
	}
	logger := zap.NewNop()
	c, err := app.Build(context.Background(), cfg, logger, app.Options{SkipMigrations: true})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	fiberApp := NewApp(cfg.App.Name)
	RegisterMiddlewares(fiberApp, logger, c.Metrics, 0)
	RegisterRoutes(fiberApp, RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, c.Postgres, c.Redis),
		Tickets:        handlers.NewTicketsHandler(c.Tickets, c.SlaTracker),
		Audit:          handlers.NewAuditHandler(c.Tickets, c.SlaTracker),
		Admin:          handlers.NewAdminHandler(c.ConfigService),
		Agents:         handlers.NewAgentsHandler(c.Tickets),
		AuthMiddleware: auth.NewAuthMiddleware(c.Tokens),
		Metrics:        c.Metrics,
	})
	return &testServer{app: fiberApp, tokens: c.Tokens, container: c}
}

func (s *testServer) token(t *testing.T, role auth.Role) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken("acme", "caller-"+string(role), role)
	require.NoError(t, err)
	return token
}

// do sends a request and decodes the JSON body into a generic map.
func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = s.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, body = s.do(t, http.MethodGet, "/tickets", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/admin/queues", s.token(t, auth.RoleAgent), map[string]any{"name": "support"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	status, _ = s.do(t, http.MethodPut, "/agents/a1/status", s.token(t, auth.RoleAgent), map[string]any{"status": "AVAILABLE"})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestTicketIntakeOverHTTP(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, auth.RoleAdmin)
	agent := s.token(t, auth.RoleAgent)

	status, body := s.do(t, http.MethodPost, "/admin/queues", admin, map[string]any{"name": "support"})
	require.Equal(t, http.StatusCreated, status, body)
	queueID := data(t, body)["id"].(string)

	status, body = s.do(t, http.MethodPost, "/admin/agents", admin, map[string]any{"id": "a1", "name": "Ana", "max_capacity": 2})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "OFFLINE", data(t, body)["status"])

	status, body = s.do(t, http.MethodPut, "/admin/queues/"+queueID+"/members/a1", admin, map[string]any{})
	require.Equal(t, http.StatusOK, status, body)

	// offline agents take nothing
	status, body = s.do(t, http.MethodPost, "/tickets", agent, map[string]any{"queue_id": queueID})
	require.Equal(t, http.StatusCreated, status, body)
	first := data(t, body)
	assert.Nil(t, first["assigned_agent_id"])
	assert.Equal(t, "FILA", first["status"])

	// coming online pulls the waiting ticket
	status, body = s.do(t, http.MethodPut, "/agents/a1/status", admin, map[string]any{"status": "AVAILABLE"})
	require.Equal(t, http.StatusOK, status, body)

	status, body = s.do(t, http.MethodGet, "/tickets/"+first["id"].(string), agent, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "a1", data(t, body)["assigned_agent_id"])

	status, body = s.do(t, http.MethodPost, "/tickets", agent, map[string]any{"queue_id": queueID})
	require.Equal(t, http.StatusCreated, status, body)
	second := data(t, body)
	assert.Equal(t, "a1", second["assigned_agent_id"])
	assert.Equal(t, "EM_ATENDIMENTO", second["status"])

	status, body = s.do(t, http.MethodPost, "/tickets/"+second["id"].(string)+"/transition", agent, map[string]any{"action": "close"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "closed", data(t, body)["status_class"])

	status, body = s.do(t, http.MethodGet, "/tickets/"+second["id"].(string)+"/distribution-log", agent, nil)
	require.Equal(t, http.StatusOK, status, body)
	entries, ok := body["data"].([]any)
	require.True(t, ok)
	assert.Len(t, entries, 1)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, auth.RoleAdmin)

	status, body := s.do(t, http.MethodGet, "/tickets/missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	status, body = s.do(t, http.MethodPost, "/tickets", admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, http.MethodPost, "/admin/queues", admin, map[string]any{
		"name": "loop", "allow_overflow": true,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "CONFIGURATION_ERROR", errorCode(body))
}

func TestPathParamsSurviveLaterRequests(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, auth.RoleAdmin)
	ctx := context.Background()

	status, body := s.do(t, http.MethodPost, "/admin/queues", admin, map[string]any{"name": "support"})
	require.Equal(t, http.StatusCreated, status, body)
	queueID := data(t, body)["id"].(string)

	agents := []string{"agent-north", "agent-south"}
	for _, id := range agents {
		status, body = s.do(t, http.MethodPost, "/admin/agents", admin, map[string]any{"id": id, "name": id, "max_capacity": 2})
		require.Equal(t, http.StatusCreated, status, body)
		status, body = s.do(t, http.MethodPut, "/admin/queues/"+queueID+"/members/"+id, admin, map[string]any{})
		require.Equal(t, http.StatusOK, status, body)
		status, body = s.do(t, http.MethodPut, "/agents/"+id+"/status", admin, map[string]any{"status": "AVAILABLE"})
		require.Equal(t, http.StatusOK, status, body)
	}
	// unrelated traffic reuses the request buffers
	for i := 0; i < 5; i++ {
		s.do(t, http.MethodGet, "/tickets/zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", admin, nil)
		s.do(t, http.MethodPut, "/admin/queues/yyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy/members/xxxxxxxxxxx", admin, map[string]any{})
	}

	members, err := s.container.Repos.Queues.ListMembers(ctx, "acme", queueID)
	require.NoError(t, err)
	var memberIDs []string
	for _, m := range members {
		memberIDs = append(memberIDs, m.AgentID)
	}
	assert.ElementsMatch(t, agents, memberIDs)

	rows, err := s.container.Repos.Agents.ListByIDs(ctx, "acme", agents)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, a := range rows {
		assert.Contains(t, agents, a.ID)
		assert.Equal(t, "AVAILABLE", string(a.Status))
	}

	status, body = s.do(t, http.MethodPost, "/tickets", admin, map[string]any{"queue_id": queueID})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Contains(t, agents, data(t, body)["assigned_agent_id"])
}
