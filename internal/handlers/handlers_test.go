package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/liveness-check/internal/auth"
	"github.com/example/liveness-check/internal/liveness"
	"github.com/example/liveness-check/internal/repository"
	"github.com/example/liveness-check/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubExtractor struct {
	pose     *liveness.PoseSignal
	err      error
	calls    int
	lastSubj string
}

func (s *stubExtractor) Extract(ctx context.Context, subject string, frame []byte) (*liveness.PoseSignal, error) {
	s.calls++
	s.lastSubj = subject
	return s.pose, s.err
}

type stubVerdicts struct {
	view *usecase.VerdictView
}

func (s *stubVerdicts) GetVerdict(ctx context.Context, sessionID string) (*usecase.VerdictView, error) {
	if s.view == nil || s.view.SessionID != sessionID {
		return nil, repository.ErrVerdictNotFound
	}
	return s.view, nil
}

func (s *stubVerdicts) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return &usecase.MetricsSummary{TotalVerdicts: 2, VerifiedVerdicts: 1, SuccessRate: 0.5}, nil
}

type envelope struct {
	Success   bool            `json:"success"`
	SessionID string          `json:"session_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, extractor *stubExtractor, verdicts VerdictReader) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	policy := liveness.MeshPolicy()
	policy.MinTotalFrames = 3
	engine, err := usecase.NewLivenessEngine(policy, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	deps := Dependencies{Engine: engine, Verdicts: verdicts, Logger: zap.NewNop()}
	if extractor != nil {
		deps.Extractor = extractor
	}

	router := gin.New()
	RegisterRoutes(router, deps, auth.Middleware(auth.Config{Secret: testJWTSecret}))
	return router
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var env envelope
	_ = json.Unmarshal(resp.Body.Bytes(), &env)
	return resp, env
}

func startSession(t *testing.T, router *gin.Engine) string {
	t.Helper()
	resp, env := doJSON(t, router, http.MethodPost, "/api/start-verification", nil)
	if resp.Code != http.StatusOK || !env.Success || env.SessionID == "" {
		t.Fatalf("start failed: %d %s", resp.Code, resp.Body.String())
	}
	return env.SessionID
}

func TestHealthDoesNotRequireAuth(t *testing.T) {
	router := newTestRouter(t, nil, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "healthy") {
		t.Fatalf("unexpected health response: %d %s", resp.Code, resp.Body.String())
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	router := newTestRouter(t, nil, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/start-verification", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestVerificationFlowWithClientPoses(t *testing.T) {
	router := newTestRouter(t, nil, nil)
	id := startSession(t, router)

	poses := []liveness.PoseSignal{{Horizontal: 0, Vertical: 0}, {Horizontal: -0.4}, {Horizontal: 0.4}}
	var last usecase.FrameResult
	for _, pose := range poses {
		resp, env := doJSON(t, router, http.MethodPost, "/api/process-frame", gin.H{"session_id": id, "pose": pose})
		if resp.Code != http.StatusOK {
			t.Fatalf("process failed: %d %s", resp.Code, resp.Body.String())
		}
		if err := json.Unmarshal(env.Data, &last); err != nil {
			t.Fatalf("failed to decode frame result: %v", err)
		}
	}
	if !last.VerificationComplete || !last.IsVerified || last.Progress != 75 {
		t.Fatalf("expected verified session, got %+v", last)
	}

	resp, env := doJSON(t, router, http.MethodGet, "/api/session-status/"+id, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status failed: %d %s", resp.Code, resp.Body.String())
	}
	var status usecase.SessionStatus
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.SessionID != id || status.TotalFrames != 3 || status.FaceDetectedFrames != 3 || !status.IsVerified {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestProcessFrameUsesExtractorForImages(t *testing.T) {
	extractor := &stubExtractor{pose: &liveness.PoseSignal{Horizontal: -0.5}}
	router := newTestRouter(t, extractor, nil)
	id := startSession(t, router)

	resp, env := doJSON(t, router, http.MethodPost, "/api/process-frame", gin.H{"session_id": id, "image": "data:image/jpeg;base64,aGVsbG8="})
	if resp.Code != http.StatusOK {
		t.Fatalf("process failed: %d %s", resp.Code, resp.Body.String())
	}
	var result usecase.FrameResult
	_ = json.Unmarshal(env.Data, &result)
	if !result.FaceDetected || result.MovementDetected != liveness.MovementLeft {
		t.Fatalf("unexpected result: %+v", result)
	}
	if extractor.calls != 1 || extractor.lastSubj != "user-123" {
		t.Fatalf("expected one extractor call for user-123, got %d (%s)", extractor.calls, extractor.lastSubj)
	}
}

func TestProcessFrameTreatsExtractionFailureAsNoFace(t *testing.T) {
	extractor := &stubExtractor{err: errors.New("detector down")}
	router := newTestRouter(t, extractor, nil)
	id := startSession(t, router)

	for _, image := range []string{"aGVsbG8=", "%%%not-base64%%%"} {
		resp, env := doJSON(t, router, http.MethodPost, "/api/process-frame", gin.H{"session_id": id, "image": image})
		if resp.Code != http.StatusOK {
			t.Fatalf("process failed: %d %s", resp.Code, resp.Body.String())
		}
		var result usecase.FrameResult
		_ = json.Unmarshal(env.Data, &result)
		if result.FaceDetected {
			t.Fatalf("expected no face, got %+v", result)
		}
	}
	if extractor.calls != 1 {
		t.Fatalf("undecodable frame must not reach the extractor, got %d calls", extractor.calls)
	}

	_, env := doJSON(t, router, http.MethodGet, "/api/session-status/"+id, nil)
	var status usecase.SessionStatus
	_ = json.Unmarshal(env.Data, &status)
	if status.TotalFrames != 2 || status.FaceDetectedFrames != 0 {
		t.Fatalf("unexpected counters: %+v", status)
	}
}

func TestProcessFrameValidation(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	resp, _ := doJSON(t, router, http.MethodPost, "/api/process-frame", gin.H{"session_id": "abc"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}

	resp, env := doJSON(t, router, http.MethodPost, "/api/process-frame", gin.H{"session_id": "unknown", "pose": gin.H{"horizontal": 0, "vertical": 0}})
	if resp.Code != http.StatusNotFound || env.Success {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestProcessFrameRejectsOversizedBody(t *testing.T) {
	router := newTestRouter(t, nil, nil)
	id := startSession(t, router)

	image := strings.Repeat("a", MaxFrameSize+1)
	resp, _ := doJSON(t, router, http.MethodPost, "/api/process-frame", gin.H{"session_id": id, "image": image})
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	router := newTestRouter(t, nil, nil)
	id := startSession(t, router)

	if resp, _ := doJSON(t, router, http.MethodDelete, "/api/sessions/"+id, nil); resp.Code != http.StatusOK {
		t.Fatalf("delete failed: %d", resp.Code)
	}
	if resp, _ := doJSON(t, router, http.MethodGet, "/api/session-status/"+id, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
	if resp, _ := doJSON(t, router, http.MethodDelete, "/api/sessions/"+id, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestVerdictEndpoints(t *testing.T) {
	verdicts := &stubVerdicts{view: &usecase.VerdictView{SessionID: "sess-1", Verified: true}}
	router := newTestRouter(t, nil, verdicts)

	resp, env := doJSON(t, router, http.MethodGet, "/api/verdicts/sess-1", nil)
	if resp.Code != http.StatusOK || !strings.Contains(string(env.Data), `"is_verified":true`) {
		t.Fatalf("unexpected verdict response: %d %s", resp.Code, resp.Body.String())
	}
	if resp, _ := doJSON(t, router, http.MethodGet, "/api/verdicts/other", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
	resp, env = doJSON(t, router, http.MethodGet, "/api/metrics/summary", nil)
	if resp.Code != http.StatusOK || !strings.Contains(string(env.Data), `"success_rate":0.5`) {
		t.Fatalf("unexpected summary: %d %s", resp.Code, resp.Body.String())
	}
}
