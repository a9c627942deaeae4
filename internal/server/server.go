package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tdprio/internal/catalog"
	"tdprio/internal/engine"
	"tdprio/internal/prioritizer"
	"tdprio/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Version  string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"unknown_dataset"`
	Message string         `json:"message" example:"unknown dataset: \"huge\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the prioritization API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	logger := cfg.Engine.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(accessLog(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("tdprio API", version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, version)
	registerDatasets(group, cfg.Engine)
	registerPlans(group, cfg.Engine)
	registerSweeps(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath, cfg.Auth.enabled())

	return router, nil
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, catalog.ErrUnknownDataset):
		return newAPIError(http.StatusNotFound, "unknown_dataset", msg, nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, prioritizer.ErrIndexOutOfRange):
		return newAPIError(http.StatusUnprocessableEntity, "index_out_of_range", msg, nil)
	case errors.Is(err, prioritizer.ErrInvalidState):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_state", msg, nil)
	case errors.Is(err, prioritizer.ErrDivisionByZero):
		return newAPIError(http.StatusUnprocessableEntity, "division_by_zero", msg, nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "canceled", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, secured bool) {
	// Built on first request, after every operation is registered.
	spec := sync.OnceValue(func() []byte {
		oas := api.OpenAPI()
		ensureDefaultErrorResponses(oas)
		if secured {
			applyAuthSecurity(oas, basePath)
		}
		data, _ := json.Marshal(oas)
		return data
	})
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec())
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>tdprio API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, version string) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok", "version": version}}, nil
	})
}

func registerDatasets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-datasets",
		Method:      http.MethodGet,
		Path:        "/datasets",
		Summary:     "List datasets",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body listDatasets `json:"body"`
	}, error) {
		resp := listDatasets{Items: []DatasetSummary{}}
		for _, name := range e.Catalog.Names() {
			d, err := e.Catalog.Get(name)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Items = append(resp.Items, datasetSummary(d))
		}
		return &struct {
			Body listDatasets `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dataset",
		Method:      http.MethodGet,
		Path:        "/datasets/{name}",
		Summary:     "Get dataset items and initial metrics",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body DatasetResponse `json:"body"`
	}, error) {
		d, err := e.Catalog.Get(input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DatasetResponse `json:"body"`
		}{Body: datasetResponse(d)}, nil
	})
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate-plan",
		Method:      http.MethodPost,
		Path:        "/plans/evaluate",
		Summary:     "Score an explicit remediation order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body EvaluatePlanRequest
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		res, err := e.EvaluatePlan(ctx, input.Body.Dataset, input.Body.Order)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(res)}, nil
	})
}

func registerSweeps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-sweep",
		Method:      http.MethodPost,
		Path:        "/sweeps",
		Summary:     "Run a rollout sweep and store it",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body RunSweepRequest
	}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		if e.Logger != nil {
			e.Logger.Info("sweep requested", zap.String("subject", subject(ctx)), zap.String("dataset", input.Body.Dataset))
		}
		s, err := e.RunSweep(ctx, engine.SweepOptions{
			Dataset:           input.Body.Dataset,
			MaxSimulations:    input.Body.MaxSimulations,
			ExplorationWeight: input.Body.ExplorationWeight,
			Seed:              input.Body.Seed,
			Parallelism:       input.Body.Parallelism,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: sweepResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sweeps",
		Method:      http.MethodGet,
		Path:        "/sweeps",
		Summary:     "List stored sweeps",
	}, func(ctx context.Context, input *struct {
		Dataset string `query:"dataset"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body listSweeps `json:"body"`
	}, error) {
		items, err := e.Repo.ListSweeps(ctx, repo.SweepFilters{Dataset: input.Dataset, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		resp := listSweeps{Items: []SweepResponse{}}
		for _, s := range items {
			resp.Items = append(resp.Items, sweepResponse(s))
		}
		return &struct {
			Body listSweeps `json:"body"`
		}{Body: resp}, nil
	})

	type sweepPath struct {
		ID string `path:"id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-sweep",
		Method:      http.MethodGet,
		Path:        "/sweeps/{id}",
		Summary:     "Get a sweep with its runs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sweepPath) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetSweep(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: sweepResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sweep-trend",
		Method:      http.MethodGet,
		Path:        "/sweeps/{id}/trend",
		Summary:     "Addressed id per position for every simulation count",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sweepPath) (*struct {
		Body TrendResponse `json:"body"`
	}, error) {
		tr, err := e.SweepTrend(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TrendResponse `json:"body"`
		}{Body: trendResponse(tr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-sweep",
		Method:        http.MethodDelete,
		Path:          "/sweeps/{id}",
		Summary:       "Delete a stored sweep",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sweepPath) (*struct{}, error) {
		if err := e.DeleteSweep(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body listEvents `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := listEvents{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body listEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
