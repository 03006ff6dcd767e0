package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ridenet/internal/config"
	"ridenet/internal/domain"
	"ridenet/internal/engine"
	"ridenet/internal/engine/fault"
	"ridenet/internal/ledger"
	"ridenet/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Webhooks []WebhookConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"rate_mismatch"`
	Message string         `json:"message" example:"driver expected fee 9000, escrowed fee is 10000"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the RideNet API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("RideNet API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCountries(group, cfg.Engine)
	registerInfras(group, cfg.Engine)
	registerDrivers(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine, cfg.Webhooks)

	return router, nil
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
	var fe fault.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case fault.AuthorizationMismatch:
			return newAPIError(http.StatusForbidden, string(fe.Kind), fe.Message, fe.Details)
		case fault.RateMismatch, fault.InsufficientFunds:
			return newAPIError(http.StatusUnprocessableEntity, string(fe.Kind), fe.Message, fe.Details)
		case fault.InvalidCoordinate:
			return newAPIError(http.StatusBadRequest, string(fe.Kind), fe.Message, fe.Details)
		case fault.IntegrityFault:
			return newAPIError(http.StatusInternalServerError, string(fe.Kind), fe.Message, fe.Details)
		default:
			// stale state, frozen, already/not yet initialized
			return newAPIError(http.StatusConflict, string(fe.Kind), fe.Message, fe.Details)
		}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
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
    <title>RideNet API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
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
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCountries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "init-country",
		Method:        http.MethodPost,
		Path:          "/countries",
		Summary:       "Initialize or update a country",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body InitCountryRequest `json:"body"`
	}) (*struct {
		Body CountryResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var cfg *config.Country
		if input.Body.ConfigYAML != "" {
			var err error
			cfg, err = config.FromYAML([]byte(input.Body.ConfigYAML))
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
		}
		c, err := e.InitOrUpdateCountry(ctx, input.Body.Alpha3, input.Body.AuthorityID, cfg, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CountryResponse `json:"body"`
		}{Body: countryResponse(c, "")}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-countries",
		Method:      http.MethodGet,
		Path:        "/countries",
		Summary:     "List countries",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []CountryResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListCountries(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CountryResponse, 0, len(items))
		for _, c := range items {
			res = append(res, countryResponse(c, ""))
		}
		return &struct {
			Body []CountryResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-country",
		Method:      http.MethodGet,
		Path:        "/countries/{alpha3}",
		Summary:     "Get country with its parameters",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Alpha3 string `path:"alpha3"`
	}) (*struct {
		Body CountryResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetCountry(ctx, input.Alpha3)
		if err != nil {
			return nil, handleError(err)
		}
		var configYAML string
		if cfg, err := e.Repo.GetCountryConfig(ctx, input.Alpha3); err == nil {
			if data, err := cfg.ToYAML(); err == nil {
				configYAML = string(data)
			}
		}
		return &struct {
			Body CountryResponse `json:"body"`
		}{Body: countryResponse(c, configYAML)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-country-authority",
		Method:      http.MethodPut,
		Path:        "/countries/{alpha3}/authority",
		Summary:     "Hand over country governance",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Alpha3 string              `path:"alpha3"`
		Body   SetAuthorityRequest `json:"body"`
	}) (*struct {
		Body CountryResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetCountryAuthority(ctx, input.Alpha3, input.Body.AuthorityID, actorID); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetCountry(ctx, input.Alpha3)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CountryResponse `json:"body"`
		}{Body: countryResponse(c, "")}, nil
	})
}

func registerInfras(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-infra",
		Method:        http.MethodPost,
		Path:          "/infras",
		Summary:       "Register a driver or customer operator",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterInfraRequest `json:"body"`
	}) (*struct {
		Body InfraResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RegisterInfra(ctx, engine.InfraRegisterOptions{
			Kind:             input.Body.Kind,
			CountryCode:      input.Body.CountryCode,
			OwnerID:          actorID,
			FeeBasisPoints:   input.Body.FeeBasisPoints,
			CompanyName:      input.Body.CompanyName,
			EntityRegistryID: input.Body.EntityRegistryID,
			Website:          input.Body.Website,
			ExpectedSeq:      input.Body.ExpectedSeq,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		balance, _ := e.Balance(ctx, domain.DepositAccount(a.ID))
		return &struct {
			Body InfraResponse `json:"body"`
		}{Body: infraResponse(a, balance)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-infras",
		Method:      http.MethodGet,
		Path:        "/infras",
		Summary:     "List operators",
	}, func(ctx context.Context, input *struct {
		Country string `query:"country"`
		Kind    string `query:"kind" enum:"driver,customer,"`
	}) (*struct {
		Body []InfraResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListInfras(ctx, input.Country, input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []InfraResponse `json:"body"`
		}{Body: mapInfras(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-infra",
		Method:      http.MethodGet,
		Path:        "/infras/{infra_id}",
		Summary:     "Get operator",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InfraID string `path:"infra_id"`
	}) (*struct {
		Body InfraResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetInfra(ctx, input.InfraID)
		if err != nil {
			return nil, handleError(err)
		}
		balance, _ := e.Balance(ctx, domain.DepositAccount(a.ID))
		return &struct {
			Body InfraResponse `json:"body"`
		}{Body: infraResponse(a, balance)}, nil
	})

	type infraPath struct {
		InfraID string `path:"infra_id"`
	}
	actionErr := writeErrors
	huma.Register(api, huma.Operation{
		OperationID: "approve-infra",
		Method:      http.MethodPost,
		Path:        "/infras/{infra_id}/approve",
		Summary:     "Approve operator registration",
		Errors:      actionErr,
	}, func(ctx context.Context, input *infraPath) (*struct {
		Body InfraResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ApproveInfra(ctx, input.InfraID, actorID); err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetInfra(ctx, input.InfraID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InfraResponse `json:"body"`
		}{Body: infraResponse(a, 0)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suspend-infra",
		Method:      http.MethodPost,
		Path:        "/infras/{infra_id}/suspend",
		Summary:     "Suspend operator",
		Errors:      actionErr,
	}, func(ctx context.Context, input *struct {
		InfraID string              `path:"infra_id"`
		Body    SuspendInfraRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SuspendInfra(ctx, input.InfraID, input.Body.Reason, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reinstate-infra",
		Method:      http.MethodPost,
		Path:        "/infras/{infra_id}/reinstate",
		Summary:     "Lift operator suspension",
		Errors:      actionErr,
	}, func(ctx context.Context, input *infraPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ReinstateInfra(ctx, input.InfraID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "slash-infra",
		Method:      http.MethodPost,
		Path:        "/infras/{infra_id}/slash",
		Summary:     "Slash operator security deposit",
		Errors:      actionErr,
	}, func(ctx context.Context, input *struct {
		InfraID string            `path:"infra_id"`
		Body    SlashInfraRequest `json:"body"`
	}) (*struct {
		Body BalanceResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := e.SlashInfra(ctx, input.InfraID, input.Body.Multiplier, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BalanceResponse `json:"body"`
		}{Body: BalanceResponse{AccountID: domain.DepositAccount(input.InfraID), Balance: amount}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-infra-basis-points",
		Method:      http.MethodPut,
		Path:        "/infras/{infra_id}/basis-points",
		Summary:     "Set operator fee share",
		Errors:      actionErr,
	}, func(ctx context.Context, input *struct {
		InfraID string                `path:"infra_id"`
		Body    SetBasisPointsRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetInfraBasisPoint(ctx, input.InfraID, input.Body.BasisPoints, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-infra-company",
		Method:      http.MethodPut,
		Path:        "/infras/{infra_id}/company",
		Summary:     "Update operator company details",
		Errors:      actionErr,
	}, func(ctx context.Context, input *struct {
		InfraID string               `path:"infra_id"`
		Body    UpdateCompanyRequest `json:"body"`
	}) (*struct {
		Body InfraResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateInfraCompany(ctx, input.InfraID, input.Body.CompanyName, input.Body.EntityRegistryID, input.Body.Website, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InfraResponse `json:"body"`
		}{Body: infraResponse(a, 0)}, nil
	})
}

func registerDrivers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-work",
		Method:        http.MethodPost,
		Path:          "/drivers",
		Summary:       "Open a driver session",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body StartWorkRequest `json:"body"`
	}) (*struct {
		Body DriverResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		driverUUID := input.Body.DriverUUID
		if driverUUID == "" {
			driverUUID = uuid.NewString()
		}
		s, err := e.StartWork(ctx, engine.StartWorkOptions{
			DriverUUID:      driverUUID,
			InfraID:         input.Body.InfraID,
			Location:        input.Body.Location,
			RSAPubkey:       input.Body.RSAPubkey,
			OfferedServices: input.Body.OfferedServices,
			PassengerTypes:  input.Body.PassengerTypes,
			Vehicle:         input.Body.Vehicle,
			Seats:           input.Body.Seats,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DriverResponse `json:"body"`
		}{Body: driverResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-driver",
		Method:      http.MethodGet,
		Path:        "/drivers/{driver_uuid}",
		Summary:     "Get driver session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DriverUUID string `path:"driver_uuid"`
	}) (*struct {
		Body DriverResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetSession(ctx, input.DriverUUID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DriverResponse `json:"body"`
		}{Body: driverResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-driver-location",
		Method:      http.MethodPut,
		Path:        "/drivers/{driver_uuid}/location",
		Summary:     "Update driver location",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DriverUUID string                `path:"driver_uuid"`
		Body       UpdateLocationRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.UpdateLocation(ctx, input.DriverUUID, input.Body.Location, input.Body.Next, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-work",
		Method:      http.MethodDelete,
		Path:        "/drivers/{driver_uuid}",
		Summary:     "Close a driver session",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DriverUUID string `path:"driver_uuid"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.EndWork(ctx, input.DriverUUID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-ride",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Request a ride",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body RequestRideRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.RequestRide(ctx, engine.RideRequestOptions{
			CustomerInfraID:    input.Body.CustomerInfraID,
			DriverInfraID:      input.Body.DriverInfraID,
			TotalFee:           input.Body.TotalFee,
			Pickup:             input.Body.Pickup,
			Drop:               input.Body.Drop,
			EncryptedData:      input.Body.EncryptedData,
			EncryptedSharedKey: input.Body.EncryptedSharedKey,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		balance, _ := e.Balance(ctx, domain.EscrowAccount(j.DriverInfraID, j.Seq))
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j, balance)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List rides of a driver operator",
	}, func(ctx context.Context, input *struct {
		DriverInfraID string `query:"driver_infra_id" required:"true"`
	}) (*struct {
		Body []JobResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListJobs(ctx, input.DriverInfraID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []JobResponse `json:"body"`
		}{Body: mapJobs(items)}, nil
	})

	type jobPath struct {
		DriverInfraID string `path:"driver_infra_id"`
		Seq           uint64 `path:"seq"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{driver_infra_id}/{seq}",
		Summary:     "Get ride",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		j, err := e.Repo.GetJob(ctx, input.DriverInfraID, input.Seq)
		if err != nil {
			return nil, handleError(err)
		}
		balance, _ := e.Balance(ctx, domain.EscrowAccount(j.DriverInfraID, j.Seq))
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j, balance)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{driver_infra_id}/{seq}/accept",
		Summary:     "Accept a ride",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DriverInfraID string           `path:"driver_infra_id"`
		Seq           uint64           `path:"seq"`
		Body          AcceptJobRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.AcceptJob(ctx, input.DriverInfraID, input.Seq, input.Body.DriverUUID, input.Body.ExpectedFee, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j, 0)}, nil
	})

	jobAction := func(opID, pathSuffix, summary string, fn func(ctx context.Context, driverInfraID string, seq uint64, actorID string) (domain.Job, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/jobs/{driver_infra_id}/{seq}/" + pathSuffix,
			Summary:     summary,
			Errors:      writeErrors,
		}, func(ctx context.Context, input *jobPath) (*struct {
			Body JobResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			j, err := fn(ctx, input.DriverInfraID, input.Seq, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body JobResponse `json:"body"`
			}{Body: jobResponse(j, 0)}, nil
		})
	}
	jobAction("arrive-at-pickup", "arrive", "Mark arrival at pickup", e.ArriveAtPickup)
	jobAction("pickup-rider", "pickup", "Start the ride", e.PickupRider)
	jobAction("complete-job", "complete", "Finish the ride", e.CompleteJob)
	jobAction("raise-issue", "dispute", "Raise an issue", e.RaiseIssue)

	huma.Register(api, huma.Operation{
		OperationID: "settle-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{driver_infra_id}/{seq}/settle",
		Summary:     "Settle a completed ride",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body SettlementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payouts, err := e.SettleJob(ctx, input.DriverInfraID, input.Seq, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettlementResponse `json:"body"`
		}{Body: SettlementResponse{Payouts: payouts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "driver-cancel-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{driver_infra_id}/{seq}/cancel-driver",
		Summary:     "Cancel from the driver side",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *jobPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DriverCancelJob(ctx, input.DriverInfraID, input.Seq, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rider-cancel-ride",
		Method:      http.MethodPost,
		Path:        "/jobs/{driver_infra_id}/{seq}/cancel-rider",
		Summary:     "Cancel from the customer side",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *jobPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RiderCancelRide(ctx, input.DriverInfraID, input.Seq, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-dispute",
		Method:      http.MethodPost,
		Path:        "/jobs/{driver_infra_id}/{seq}/resolve",
		Summary:     "Resolve a disputed ride",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		DriverInfraID string                `path:"driver_infra_id"`
		Seq           uint64                `path:"seq"`
		Body          ResolveDisputeRequest `json:"body"`
	}) (*struct {
		Body SettlementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payouts, err := e.ResolveDispute(ctx, input.DriverInfraID, input.Seq, input.Body.Winner, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettlementResponse `json:"body"`
		}{Body: SettlementResponse{Payouts: payouts}}, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "deposit",
		Method:      http.MethodPost,
		Path:        "/ledger/deposit",
		Summary:     "Credit the caller's owner account",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body DepositRequest `json:"body"`
	}) (*struct {
		Body BalanceResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		balance, err := e.Deposit(ctx, actorID, input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BalanceResponse `json:"body"`
		}{Body: BalanceResponse{AccountID: domain.OwnerAccount(actorID), Balance: balance}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-balance",
		Method:      http.MethodGet,
		Path:        "/ledger/balance",
		Summary:     "Read an account balance",
	}, func(ctx context.Context, input *struct {
		Account string `query:"account" required:"true"`
	}) (*struct {
		Body BalanceResponse `json:"body"`
	}, error) {
		balance, err := ledger.Balance(ctx, e.DB, input.Account)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BalanceResponse `json:"body"`
		}{Body: BalanceResponse{AccountID: input.Account, Balance: balance}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-funds",
		Method:      http.MethodPost,
		Path:        "/ledger/transfer",
		Summary:     "Transfer from the caller's owner account",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Body TransferRequest `json:"body"`
	}) (*struct {
		Body BalanceResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.TransferFunds(ctx, actorID, input.Body.To, input.Body.Amount); err != nil {
			return nil, handleError(err)
		}
		balance, err := e.Balance(ctx, domain.OwnerAccount(actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BalanceResponse `json:"body"`
		}{Body: BalanceResponse{AccountID: domain.OwnerAccount(actorID), Balance: balance}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List journal events",
	}, func(ctx context.Context, input *struct {
		Country    string `query:"country"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Country:    input.Country,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create an API key for the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plaintext := "rn_" + uuid.NewString()
		key := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   actorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(plaintext),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			Key:       plaintext,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List the caller's API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			res = append(res, APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete an API key",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	if !cfg.EnableDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development JWT",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.ActorID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := issueJWT(input.Body.ActorID, cfg.JWTSecret, time.Now(), 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{Token: token}}, nil
	})
}
