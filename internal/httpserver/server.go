// Package httpserver exposes the pipeline services over HTTP.
package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/DineshTeja/aria/internal/clinic"
	"github.com/DineshTeja/aria/internal/store"
	"github.com/DineshTeja/aria/internal/transcript"
)

// Responder generates replies and knowledge graphs.
type Responder interface {
	Respond(ctx context.Context, transcript, photoAnalysis string) (clinic.Response, error)
	RespondStream(ctx context.Context, transcript, photoAnalysis string, onChunk func(string)) (clinic.Response, error)
	BuildGraph(ctx context.Context, articles []string) (string, error)
}

// Classifier issues the two strict binary decisions.
type Classifier interface {
	PhotoNeed(ctx context.Context, transcript, previousAnalysis string) (bool, error)
	ProfessionalRequest(ctx context.Context, transcript string) (bool, error)
}

// Locator runs the clinician lookup.
type Locator interface {
	Locate(ctx context.Context, transcript string, patient clinic.Patient, known []store.Clinician) (clinic.Located, error)
}

// Reporter compiles the diagnostic report.
type Reporter interface {
	Compile(ctx context.Context, history []transcript.Message) (string, error)
}

// Analyst describes submitted photos.
type Analyst interface {
	Describe(ctx context.Context, imageDataURL string) (string, error)
}

// KnowledgeSearcher plans and runs knowledge-base searches.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, limit, offset int) (clinic.SearchPlan, []store.KnowledgeItem, error)
}

// Planner rewrites free-text queries.
type Planner interface {
	Plan(ctx context.Context, query string) (clinic.SearchPlan, error)
}

// PhysicianSearcher browses the clinician directory.
type PhysicianSearcher interface {
	Search(ctx context.Context, query, region string, limit, offset int) ([]store.Clinician, error)
}

// PhotoReceiver resumes a conversation turn parked on a photo request. Nil
// when no conversation runtime is configured. The resumed work outlives the
// HTTP request, so no context is threaded through.
type PhotoReceiver interface {
	SubmitPhoto(analysis string)
	SkipPhoto()
}

// Deps bundles the services the routes need. Optional fields may be nil;
// their routes answer 503.
type Deps struct {
	Responder  Responder
	Classifier Classifier
	Locator    Locator
	Reporter   Reporter
	Analyst    Analyst
	Knowledge  KnowledgeSearcher
	Planner    Planner
	Physicians PhysicianSearcher
	Photos     PhotoReceiver
	Patient    clinic.Patient
}

// Server wraps the configured echo instance.
type Server struct {
	Echo *echo.Echo
	deps Deps
	log  zerolog.Logger
}

// New constructs the server and registers all routes.
func New(deps Deps, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{Echo: e, deps: deps, log: log.With().Str("component", "http").Logger()}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/chat", s.handleChat)
	e.POST("/classify", s.handleClassify)
	e.POST("/location/classify", s.handleLocationClassify)
	e.POST("/location", s.handleLocation)
	e.POST("/generate-report", s.handleGenerateReport)
	e.POST("/llava", s.handleLlava)
	e.POST("/graph", s.handleGraph)
	e.POST("/search", s.handleSearch)
	e.POST("/knowledge/search", s.handleKnowledgeSearch)
	e.POST("/physicians/search", s.handlePhysicianSearch)
	e.POST("/session/photo", s.handleSessionPhoto)

	return s
}

type errorBody struct {
	Error string `json:"error"`
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: msg})
}

func (s *Server) internal(c echo.Context, err error) error {
	s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
}

type chatRequest struct {
	PatientInput            string `json:"patientInput"`
	PreviousPictureAnalysis string `json:"previousPictureAnalysis"`
}

type chatResponse struct {
	Answer            string                `json:"answer"`
	Articles          []store.KnowledgeItem `json:"articles"`
	DiagnosisProvided bool                  `json:"diagnosisProvided"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.PatientInput == "" {
		return badRequest(c, "patientInput is required")
	}

	if c.QueryParam("stream") == "1" {
		// The 200 header is withheld until the first chunk so failures
		// before streaming begins can still answer 500.
		started := false
		_, err := s.deps.Responder.RespondStream(c.Request().Context(), req.PatientInput, req.PreviousPictureAnalysis,
			func(chunk string) {
				if !started {
					c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
					c.Response().WriteHeader(http.StatusOK)
					started = true
				}
				_, _ = c.Response().Write([]byte(chunk))
				c.Response().Flush()
			})
		if err != nil {
			if !started {
				return s.internal(c, err)
			}
			s.log.Error().Err(err).Msg("chat stream failed mid-delivery")
			return nil
		}
		if !started {
			c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
			c.Response().WriteHeader(http.StatusOK)
		}
		return nil
	}

	resp, err := s.deps.Responder.Respond(c.Request().Context(), req.PatientInput, req.PreviousPictureAnalysis)
	if err != nil {
		return s.internal(c, err)
	}
	return c.JSON(http.StatusOK, chatResponse{
		Answer:            resp.Answer,
		Articles:          resp.Articles,
		DiagnosisProvided: resp.HasDiagnosis,
	})
}

func (s *Server) handleClassify(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.PatientInput == "" {
		return badRequest(c, "patientInput is required")
	}
	needs, err := s.deps.Classifier.PhotoNeed(c.Request().Context(), req.PatientInput, req.PreviousPictureAnalysis)
	if err != nil {
		return s.internal(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"needsPicture": needs})
}

func (s *Server) handleLocationClassify(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.PatientInput == "" {
		return badRequest(c, "patientInput is required")
	}
	requesting, err := s.deps.Classifier.ProfessionalRequest(c.Request().Context(), req.PatientInput)
	if err != nil {
		return s.internal(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"requestingProfessionals": requesting})
}

type locationRequest struct {
	PatientInfo  clinic.Patient    `json:"patientInfo"`
	PatientInput string            `json:"patientInput"`
	Doctors      []store.Clinician `json:"doctors"`
}

type locationResponse struct {
	Response string            `json:"response"`
	Doctors  []store.Clinician `json:"doctors"`
}

func (s *Server) handleLocation(c echo.Context) error {
	var req locationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.PatientInput == "" {
		return badRequest(c, "patientInput is required")
	}
	patient := req.PatientInfo
	if patient.Locality == "" && patient.Region == "" {
		patient = s.deps.Patient
	}
	located, err := s.deps.Locator.Locate(c.Request().Context(), req.PatientInput, patient, req.Doctors)
	if err != nil {
		return s.internal(c, err)
	}
	return c.JSON(http.StatusOK, locationResponse{Response: located.Message, Doctors: located.Clinicians})
}

type reportRequest struct {
	Messages []transcript.Message `json:"messages"`
}

func (s *Server) handleGenerateReport(c echo.Context) error {
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Messages) == 0 {
		return badRequest(c, "messages are required")
	}
	report, err := s.deps.Reporter.Compile(c.Request().Context(), req.Messages)
	if err != nil {
		return s.internal(c, err)
	}
	return c.String(http.StatusOK, report)
}

type llavaRequest struct {
	ImageData string `json:"imageData"`
}

func (s *Server) handleLlava(c echo.Context) error {
	var req llavaRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ImageData == "" {
		return badRequest(c, "imageData is required")
	}
	analysis, err := s.deps.Analyst.Describe(c.Request().Context(), req.ImageData)
	if err != nil {
		return s.internal(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"analysis": analysis})
}

type graphRequest struct {
	Articles []string `json:"articles"`
}

func (s *Server) handleGraph(c echo.Context) error {
	var req graphRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Articles) == 0 {
		return badRequest(c, "articles are required")
	}
	graph, err := s.deps.Responder.BuildGraph(c.Request().Context(), req.Articles)
	if err != nil {
		return s.internal(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"graph": graph})
}

type searchRequest struct {
	Query  string `json:"query"`
	Region string `json:"region"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Query == "" {
		return badRequest(c, "query is required")
	}
	plan, err := s.deps.Planner.Plan(c.Request().Context(), req.Query)
	if err != nil {
		return s.internal(c, err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (s *Server) handleKnowledgeSearch(c echo.Context) error {
	if s.deps.Knowledge == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "knowledge base not configured"})
	}
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Query == "" {
		return badRequest(c, "query is required")
	}
	if req.Limit <= 0 || req.Limit > 50 {
		req.Limit = 10
	}
	plan, items, err := s.deps.Knowledge.Search(c.Request().Context(), req.Query, req.Limit, req.Offset)
	if err != nil {
		return s.internal(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"plan": plan, "items": items})
}

func (s *Server) handlePhysicianSearch(c echo.Context) error {
	if s.deps.Physicians == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "clinician directory not configured"})
	}
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Query == "" {
		return badRequest(c, "query is required")
	}
	doctors, err := s.deps.Physicians.Search(c.Request().Context(), req.Query, req.Region, req.Limit, req.Offset)
	if err != nil {
		return s.internal(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"doctors": doctors})
}

type sessionPhotoRequest struct {
	ImageData string `json:"imageData"`
	Skip      bool   `json:"skip"`
}

// handleSessionPhoto resumes the conversation's photo turn: the image is
// analyzed and its description handed to the waiting controller.
func (s *Server) handleSessionPhoto(c echo.Context) error {
	if s.deps.Photos == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "conversation runtime not configured"})
	}
	var req sessionPhotoRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Skip {
		s.deps.Photos.SkipPhoto()
		return c.NoContent(http.StatusNoContent)
	}
	if req.ImageData == "" {
		return badRequest(c, "imageData is required unless skip is set")
	}
	analysis, err := s.deps.Analyst.Describe(c.Request().Context(), req.ImageData)
	if err != nil {
		return s.internal(c, err)
	}
	s.deps.Photos.SubmitPhoto(analysis)
	return c.JSON(http.StatusOK, map[string]string{"analysis": analysis})
}
