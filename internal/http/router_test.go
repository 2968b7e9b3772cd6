package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/auth"
	"github.com/mortgage-marketplace/backend/internal/config"
	"github.com/mortgage-marketplace/backend/internal/http/handlers"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/repositories"
	"github.com/mortgage-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testWebhookSecret = "test-webhook-secret"
)

type envelope struct {
	OK     bool            `json:"ok"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Code   string          `json:"code"`
	From   string          `json:"from"`
	Event  string          `json:"event"`
	Rule   string          `json:"rule"`
	Action string          `json:"action"`
}

type testServer struct {
	app *fiber.App
	mem *repositories.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{
		JWTSecret:          testJWTSecret,
		ESignWebhookSecret: testWebhookSecret,
		AdminActorIDs:      []string{"root-admin"},
	}

	mem := repositories.NewMemoryStore()
	policy := models.DefaultEscalationPolicy()
	deals := services.NewDealService(mem, nil, log)
	flow := services.NewTransferWorkflow(deals, policy)
	metrics := services.NewMetricsService(mem, nil, policy, 0, 0, log)

	app := fiber.New()
	SetupRouter(app, cfg, log, nil,
		handlers.NewDealHandler(deals, log),
		handlers.NewTransferHandler(flow, log),
		handlers.NewMetricsHandler(metrics, mem, log),
		handlers.NewWebhookHandler(deals, cfg.ESignWebhookSecret, log),
		handlers.NewWSHub(cfg, nil, log),
	)
	return &testServer{app: app, mem: mem}
}

func token(t *testing.T, actorID, role string) string {
	t.Helper()
	tok, err := auth.GenerateJWT(testJWTSecret, actorID, role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any) (int, envelope) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, env
}

func (s *testServer) createDeal(t *testing.T, tok string) models.Deal {
	t.Helper()
	status, env := s.do(t, "POST", "/api/v1/deals", tok, map[string]any{
		"listing_id":           uuid.NewString(),
		"seller_id":            "seller-1",
		"investor_id":          "investor-1",
		"ownership_percentage": "25",
		"deal_value":           "250000.00",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("create deal: status %d, %+v", status, env)
	}
	var d models.Deal
	if err := json.Unmarshal(env.Data, &d); err != nil {
		t.Fatal(err)
	}
	return d
}

func (s *testServer) transition(t *testing.T, dealID uuid.UUID, tok string, body any) (int, envelope) {
	t.Helper()
	return s.do(t, "POST", "/api/v1/deals/"+dealID.String()+"/transitions", tok, body)
}

func (s *testServer) esign(t *testing.T, dealID uuid.UUID, status, secret string) (int, envelope) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"deal_id":     dealID.String(),
		"envelope_id": "env-42",
		"status":      status,
	})
	req := httptest.NewRequest("POST", "/api/v1/webhooks/esign", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handlers.HeaderWebhookSignature, auth.SignWebhook(secret, body))
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func TestDealLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	maker := token(t, "ops-maker", "admin")
	lawyer := token(t, "lawyer-1", "lawyer")
	reviewer := token(t, "reviewer-1", "reviewer")

	d := s.createDeal(t, maker)
	if d.CurrentState != models.DealStateLocked {
		t.Fatalf("state = %s", d.CurrentState)
	}

	steps := []struct {
		tok  string
		body any
	}{
		{lawyer, map[string]any{"type": "LAWYER_CONFIRMED"}},
		{lawyer, map[string]any{"type": "DOCS_READY", "notes": "pack v2"}},
	}
	for _, st := range steps {
		if status, env := s.transition(t, d.ID, st.tok, st.body); status != fiber.StatusOK {
			t.Fatalf("transition %v: status %d, %+v", st.body, status, env)
		}
	}

	if status, env := s.esign(t, d.ID, "completed", testWebhookSecret); status != fiber.StatusOK || env.Action != "docs_signed" {
		t.Fatalf("esign: status %d, %+v", status, env)
	}
	if status, env := s.esign(t, d.ID, "completed", testWebhookSecret); status != fiber.StatusOK || env.Action != "duplicate" {
		t.Fatalf("esign redelivery: status %d, %+v", status, env)
	}

	if status, _ := s.transition(t, d.ID, maker, map[string]any{"type": "TRANSFER_UPLOADED", "receipt_ref": "rcpt-9"}); status != fiber.StatusOK {
		t.Fatalf("transfer uploaded: status %d", status)
	}

	status, env := s.transition(t, d.ID, maker, map[string]any{"type": "VERIFY_COMPLETE", "verified_amount": "249999.99"})
	if status != fiber.StatusUnprocessableEntity || env.Rule != models.RuleAmountMismatch {
		t.Fatalf("short amount: status %d, %+v", status, env)
	}

	// numeric amounts are accepted too
	if status, env := s.transition(t, d.ID, maker, map[string]any{"type": "VERIFY_COMPLETE", "verified_amount": 250000}); status != fiber.StatusOK {
		t.Fatalf("verify: status %d, %+v", status, env)
	}

	status, env = s.do(t, "GET", "/api/v1/ownership-transfers/pending", reviewer, nil)
	if status != fiber.StatusOK {
		t.Fatalf("pending: status %d", status)
	}
	var queue []services.ReviewItem
	if err := json.Unmarshal(env.Data, &queue); err != nil || len(queue) != 1 {
		t.Fatalf("queue = %s (%v)", env.Data, err)
	}
	transferID := queue[0].Transfer.ID.String()

	status, env = s.do(t, "POST", "/api/v1/ownership-transfers/"+transferID+"/approve", maker, nil)
	if status != fiber.StatusUnprocessableEntity || env.Rule != models.RuleMakerChecker {
		t.Fatalf("self approval: status %d, %+v", status, env)
	}

	if status, env := s.do(t, "POST", "/api/v1/ownership-transfers/"+transferID+"/approve", reviewer, nil); status != fiber.StatusOK {
		t.Fatalf("approve: status %d, %+v", status, env)
	}

	status, env = s.do(t, "GET", "/api/v1/deals/"+d.ID.String()+"/history", reviewer, nil)
	if status != fiber.StatusOK {
		t.Fatalf("history: status %d", status)
	}
	var hist services.DealHistory
	if err := json.Unmarshal(env.Data, &hist); err != nil {
		t.Fatal(err)
	}
	if hist.CurrentState != models.DealStateCompleted || len(hist.Entries) != 6 {
		t.Fatalf("history = %s with %d entries", hist.CurrentState, len(hist.Entries))
	}

	if status, _ := s.do(t, "GET", "/api/v1/metrics/deals", reviewer, nil); status != fiber.StatusOK {
		t.Fatalf("metrics: status %d", status)
	}
	status, env = s.do(t, "GET", "/api/v1/alerts?deal_id="+d.ID.String(), reviewer, nil)
	if status != fiber.StatusOK {
		t.Fatalf("alerts: status %d", status)
	}
	var alerts []models.Alert
	if err := json.Unmarshal(env.Data, &alerts); err != nil || len(alerts) == 0 {
		t.Fatalf("alerts = %s (%v)", env.Data, err)
	}
}

func TestTransitionRequestErrors(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, "ops-maker", "admin")
	lawyer := token(t, "lawyer-1", "lawyer")
	d := s.createDeal(t, admin)

	cases := []struct {
		name   string
		tok    string
		body   any
		status int
		code   string
	}{
		{"retired GO_BACK", admin, map[string]any{"type": "GO_BACK", "to_state": "locked"}, fiber.StatusBadRequest, handlers.CodeInvalidEvent},
		{"unknown field", admin, map[string]any{"type": "DOCS_READY", "target": "x"}, fiber.StatusBadRequest, handlers.CodeBadRequest},
		{"foreign field", admin, map[string]any{"type": "LAWYER_CONFIRMED", "receipt_ref": "r"}, fiber.StatusBadRequest, handlers.CodeInvalidEvent},
		{"reserved event", admin, map[string]any{"type": "OWNERSHIP_APPROVED"}, fiber.StatusBadRequest, handlers.CodeInvalidEvent},
		{"empty body", admin, "", fiber.StatusBadRequest, handlers.CodeBadRequest},
		{"role may not raise", lawyer, map[string]any{"type": "CANCEL", "reason": "x"}, fiber.StatusForbidden, handlers.CodeForbidden},
		{"illegal from locked", admin, map[string]any{"type": "DOCS_READY"}, fiber.StatusConflict, handlers.CodeInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := s.transition(t, d.ID, tc.tok, tc.body)
			if status != tc.status || env.Code != tc.code {
				t.Fatalf("status %d code %q, want %d %q (%s)", status, env.Code, tc.status, tc.code, env.Error)
			}
			if tc.code == handlers.CodeInvalidTransition && (env.From != "locked" || env.Event != "DOCS_READY") {
				t.Fatalf("from/event = %q/%q", env.From, env.Event)
			}
		})
	}

	if status, env := s.transition(t, uuid.New(), admin, map[string]any{"type": "LAWYER_CONFIRMED"}); status != fiber.StatusNotFound {
		t.Fatalf("unknown deal: status %d, %+v", status, env)
	}
}

func TestAuthAndPermissions(t *testing.T) {
	s := newTestServer(t)
	investor := token(t, "investor-1", "investor")

	if status, _ := s.do(t, "GET", "/api/v1/deals", "", nil); status != fiber.StatusUnauthorized {
		t.Fatalf("no token: status %d", status)
	}
	if status, _ := s.do(t, "GET", "/api/v1/deals", token(t, "x", "wizard"), nil); status != fiber.StatusForbidden {
		t.Fatalf("unknown role: status %d", status)
	}
	if status, _ := s.do(t, "POST", "/api/v1/deals", investor, map[string]any{}); status != fiber.StatusForbidden {
		t.Fatalf("investor create: status %d", status)
	}
	if status, _ := s.do(t, "GET", "/api/v1/metrics/deals", investor, nil); status != fiber.StatusForbidden {
		t.Fatalf("investor metrics: status %d", status)
	}
	if status, _ := s.do(t, "GET", "/api/v1/deals", investor, nil); status != fiber.StatusOK {
		t.Fatalf("investor list: status %d", status)
	}
	if status, _ := s.do(t, "GET", "/api/v1/deals?state=nowhere", investor, nil); status != fiber.StatusBadRequest {
		t.Fatalf("bad state filter: status %d", status)
	}

	// listed admin ids are elevated whatever the token role says
	elevated := token(t, "root-admin", "reviewer")
	s.createDeal(t, elevated)

	reviewer := token(t, "reviewer-1", "reviewer")
	status, env := s.do(t, "POST", "/api/v1/ownership-transfers/"+uuid.NewString()+"/manual-approve", reviewer, nil)
	if status != fiber.StatusForbidden {
		t.Fatalf("reviewer override: status %d, %+v", status, env)
	}
	status, env = s.do(t, "POST", "/api/v1/ownership-transfers/"+uuid.NewString()+"/approve", reviewer, nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("reviewer approve unknown: status %d, %+v", status, env)
	}
}

func TestCreateDealValidation(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, "ops-maker", "admin")

	status, env := s.do(t, "POST", "/api/v1/deals", admin, map[string]any{
		"listing_id":           uuid.NewString(),
		"seller_id":            "seller-1",
		"investor_id":          "investor-1",
		"ownership_percentage": "120",
		"deal_value":           "1000",
	})
	if status != fiber.StatusUnprocessableEntity || env.Rule != models.RulePercentageRange {
		t.Fatalf("status %d, %+v", status, env)
	}

	status, env = s.do(t, "POST", "/api/v1/deals", admin, map[string]any{
		"listing_id":           uuid.NewString(),
		"seller_id":            "seller-1",
		"investor_id":          "investor-1",
		"ownership_percentage": "25",
		"deal_value":           "1000.005",
	})
	if status != fiber.StatusUnprocessableEntity || env.Rule != models.RuleInvalidDealInput {
		t.Fatalf("sub-cent deal_value: status %d, %+v", status, env)
	}

	status, _ = s.do(t, "POST", "/api/v1/deals", admin, map[string]any{"listing_id": "nope"})
	if status != fiber.StatusBadRequest {
		t.Fatalf("bad listing id: status %d", status)
	}
}

func TestHealthReportsSockets(t *testing.T) {
	s := newTestServer(t)
	resp, err := s.app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Status        string `json:"status"`
		WSConnections *int   `json:"ws_connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.WSConnections == nil || *body.WSConnections != 0 {
		t.Fatalf("health = %+v", body)
	}
}

func TestESignWebhookSignature(t *testing.T) {
	s := newTestServer(t)
	d := s.createDeal(t, token(t, "ops-maker", "admin"))

	if status, _ := s.esign(t, d.ID, "completed", "wrong-secret"); status != fiber.StatusUnauthorized {
		t.Fatalf("bad signature: status %d", status)
	}
	if status, env := s.esign(t, d.ID, "delivered", testWebhookSecret); status != fiber.StatusOK || env.Action != "ignored" {
		t.Fatalf("delivered: status %d, %+v", status, env)
	}
	// deal is still locked, so a completion is out of order
	if status, env := s.esign(t, d.ID, "completed", testWebhookSecret); status != fiber.StatusConflict || env.Code != handlers.CodeInvalidTransition {
		t.Fatalf("out of order: status %d, %+v", status, env)
	}
}
