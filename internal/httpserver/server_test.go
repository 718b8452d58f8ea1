package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/DineshTeja/aria/internal/classify"
	"github.com/DineshTeja/aria/internal/clinic"
	"github.com/DineshTeja/aria/internal/store"
	"github.com/DineshTeja/aria/internal/transcript"
)

type stubResponder struct{}

func (stubResponder) Respond(_ context.Context, _, _ string) (clinic.Response, error) {
	return clinic.Response{Answer: "Rest and hydrate.", HasDiagnosis: true}, nil
}

func (stubResponder) RespondStream(_ context.Context, _, _ string, onChunk func(string)) (clinic.Response, error) {
	for _, c := range []string{"Rest ", "and ", "hydrate."} {
		onChunk(c)
	}
	return clinic.Response{Answer: "Rest and hydrate."}, nil
}

func (stubResponder) BuildGraph(_ context.Context, _ []string) (string, error) {
	return "graph TD a --> |causes| b", nil
}

type stubClassifier struct {
	err error
}

func (s stubClassifier) PhotoNeed(_ context.Context, _, _ string) (bool, error) {
	return true, s.err
}

func (s stubClassifier) ProfessionalRequest(_ context.Context, _ string) (bool, error) {
	return false, s.err
}

type stubLocator struct{}

func (stubLocator) Locate(_ context.Context, _ string, _ clinic.Patient, known []store.Clinician) (clinic.Located, error) {
	if len(known) > 0 {
		return clinic.Located{Message: clinic.CachedCliniciansMessage, Clinicians: known}, nil
	}
	return clinic.Located{Message: "See Dr. Derm.", Clinicians: []store.Clinician{{Name: "Dr. Derm", Link: "d1"}}}, nil
}

type stubReporter struct{}

func (stubReporter) Compile(_ context.Context, _ []transcript.Message) (string, error) {
	return "## Summary\n- ok\n\n" + clinic.ReportDisclaimer, nil
}

type stubAnalyst struct{}

func (stubAnalyst) Describe(_ context.Context, _ string) (string, error) {
	return "mild redness", nil
}

type stubPhysicians struct{}

func (stubPhysicians) Search(_ context.Context, _, _ string, _, _ int) ([]store.Clinician, error) {
	return []store.Clinician{{Name: "Dr. Derm", Link: "d1"}}, nil
}

type stubPlanner struct{}

func (stubPlanner) Plan(_ context.Context, query string) (clinic.SearchPlan, error) {
	return clinic.SearchPlan{InformedQuery: "informed " + query, Categories: []string{"Respiratory"}}, nil
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Responder == nil {
		deps.Responder = stubResponder{}
	}
	if deps.Classifier == nil {
		deps.Classifier = stubClassifier{}
	}
	if deps.Locator == nil {
		deps.Locator = stubLocator{}
	}
	if deps.Reporter == nil {
		deps.Reporter = stubReporter{}
	}
	if deps.Analyst == nil {
		deps.Analyst = stubAnalyst{}
	}
	if deps.Planner == nil {
		deps.Planner = stubPlanner{}
	}
	if deps.Physicians == nil {
		deps.Physicians = stubPhysicians{}
	}
	return New(deps, zerolog.Nop())
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, req)
	return w
}

const echoContentType = "Content-Type"

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, Deps{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestChatRequiresPatientInput(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/chat", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChatReturnsAnswerAndArticles(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/chat", `{"patientInput":"sore throat"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "Rest and hydrate." || !resp.DiagnosisProvided {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestChatStreamMode(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/chat?stream=1", `{"patientInput":"sore throat"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "Rest and hydrate." {
		t.Fatalf("unexpected streamed body: %q", w.Body.String())
	}
}

// brokenStreamResponder fails before any chunk is produced.
type brokenStreamResponder struct {
	stubResponder
}

func (brokenStreamResponder) RespondStream(_ context.Context, _, _ string, _ func(string)) (clinic.Response, error) {
	return clinic.Response{}, errors.New("specialist opinion: model unavailable")
}

func TestChatStreamFailureBeforeFirstChunkIs500(t *testing.T) {
	srv := newTestServer(t, Deps{Responder: brokenStreamResponder{}})
	w := doJSON(t, srv, http.MethodPost, "/chat?stream=1", `{"patientInput":"sore throat"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the stream fails before any chunk, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "model unavailable") {
		t.Fatalf("error detail missing: %s", w.Body.String())
	}
}

func TestClassifyStrictContractFailureIs500(t *testing.T) {
	srv := newTestServer(t, Deps{Classifier: stubClassifier{
		err: fmt.Errorf("photo-need classification: %w", classify.ErrUnexpectedToken),
	}})
	w := doJSON(t, srv, http.MethodPost, "/classify", `{"patientInput":"sore throat"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unexpected token") {
		t.Fatalf("error detail missing: %s", w.Body.String())
	}
}

func TestClassifyHappyPath(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/classify", `{"patientInput":"rash on my arm"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp["needsPicture"] {
		t.Fatalf("unexpected classification: %v", resp)
	}
}

func TestLocationEchoesCachedDoctors(t *testing.T) {
	srv := newTestServer(t, Deps{})
	body := `{"patientInput":"find me a doctor","doctors":[{"name":"Dr. Known","link":"k1"}]}`
	w := doJSON(t, srv, http.MethodPost, "/location", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp locationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Response != clinic.CachedCliniciansMessage {
		t.Fatalf("expected cached short-circuit, got %q", resp.Response)
	}
	if len(resp.Doctors) != 1 || resp.Doctors[0].Link != "k1" {
		t.Fatalf("doctors not echoed unchanged: %+v", resp.Doctors)
	}
}

func TestGenerateReportIsPlainText(t *testing.T) {
	srv := newTestServer(t, Deps{})
	body := `{"messages":[{"role":"user","content":"my head hurts"}]}`
	w := doJSON(t, srv, http.MethodPost, "/generate-report", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get(echoContentType); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), clinic.ReportDisclaimer) {
		t.Fatal("report missing disclaimer")
	}
}

func TestGenerateReportRequiresMessages(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/generate-report", `{"messages":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLlavaRequiresImageData(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/llava", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLlavaReturnsAnalysis(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/llava", `{"imageData":"data:image/png;base64,AAAA"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "mild redness") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestSearchReturnsPlan(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/search", `{"query":"chest pain"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var plan clinic.SearchPlan
	if err := json.Unmarshal(w.Body.Bytes(), &plan); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if plan.InformedQuery != "informed chest pain" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestKnowledgeSearchUnavailableWithoutIndex(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/knowledge/search", `{"query":"cough"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestPhysicianSearch(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/physicians/search", `{"query":"derm"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Dr. Derm") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestSessionPhotoUnavailableWithoutRuntime(t *testing.T) {
	srv := newTestServer(t, Deps{})
	w := doJSON(t, srv, http.MethodPost, "/session/photo", `{"skip":true}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

type stubPhotos struct {
	submitted []string
	skipped   int
}

func (p *stubPhotos) SubmitPhoto(analysis string) { p.submitted = append(p.submitted, analysis) }
func (p *stubPhotos) SkipPhoto()                  { p.skipped++ }

func TestSessionPhotoSubmitsAnalysis(t *testing.T) {
	photos := &stubPhotos{}
	srv := newTestServer(t, Deps{Photos: photos})

	w := doJSON(t, srv, http.MethodPost, "/session/photo", `{"imageData":"data:image/png;base64,AAAA"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(photos.submitted) != 1 || photos.submitted[0] != "mild redness" {
		t.Fatalf("analysis not forwarded: %+v", photos.submitted)
	}

	w = doJSON(t, srv, http.MethodPost, "/session/photo", `{"skip":true}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if photos.skipped != 1 {
		t.Fatalf("skip not forwarded: %d", photos.skipped)
	}
}
