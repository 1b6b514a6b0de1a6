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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"

	"innkeep/internal/domain"
	"innkeep/internal/engine"
	"innkeep/internal/engine/auth"
	"innkeep/internal/inventory"
	"innkeep/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine         engine.Engine
	BasePath       string
	Auth           AuthConfig
	AllowedOrigins []string
	Log            logrus.FieldLogger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"room_unavailable"`
	Message string         `json:"message" example:"room R1 is not available for [2024-05-10, 2024-05-13)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"conflicts\":[\"7c9e...\"]}"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// handlers carries what every route needs.
type handlers struct {
	e      engine.Engine
	policy auth.Policy
	auth   AuthConfig
}

// New returns an HTTP handler exposing the innkeep API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema validation failures are plain bad requests
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	h := handlers{e: cfg.Engine, policy: auth.NewPolicy(cfg.Engine.Config), auth: cfg.Auth}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(log))
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("innkeep API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, h)
	registerStats(group, h)
	registerRooms(group, h)
	registerAvailability(group, h)
	registerReservations(group, h)
	registerAdmin(group, h)
	if cfg.Auth.AllowDevHeaders && cfg.Auth.JWTSecret != "" {
		registerDevAuth(group, h)
	}
	registerOpenAPI(router, api, basePath)

	return withCORS(router, cfg.AllowedOrigins), nil
}

func withCORS(next http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		return next
	}
	headersOk := gorillaHandlers.AllowedHeaders([]string{"X-Requested-With", "Authorization", "Content-Type", "X-Api-Key"})
	originsOk := gorillaHandlers.AllowedOrigins(origins)
	methodsOk := gorillaHandlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPatch, http.MethodOptions})
	return gorillaHandlers.CORS(originsOk, headersOk, methodsOk)(next)
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			entry := log.WithFields(logrus.Fields{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Debug("request served")
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	code := domain.CodeOf(err)
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status := http.StatusBadRequest
		if code == "capacity_exceeded" {
			status = http.StatusUnprocessableEntity
		}
		return newAPIError(status, code, err.Error(), errorDetails(err))
	case domain.KindNotFound:
		return newAPIError(http.StatusNotFound, code, err.Error(), nil)
	case domain.KindConflict:
		return newAPIError(http.StatusConflict, code, err.Error(), errorDetails(err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusServiceUnavailable, "timeout", "operation timed out", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func errorDetails(err error) map[string]any {
	var (
		verr  domain.ValidationError
		full  domain.CapacityExceededError
		unav  domain.RoomUnavailableError
		trans domain.InvalidTransitionError
		early domain.PrematureCompletionError
		ver   domain.VersionConflictError
		busy  domain.RoomBusyError
	)
	switch {
	case errors.As(err, &verr) && verr.Field != "":
		return map[string]any{"field": verr.Field}
	case errors.As(err, &full):
		return map[string]any{"room_id": full.RoomID, "capacity": full.Capacity, "requested": full.Requested}
	case errors.As(err, &unav):
		return map[string]any{"room_id": unav.RoomID, "conflicts": nonNilSlice(unav.Conflicts)}
	case errors.As(err, &trans):
		return map[string]any{"from": trans.From, "to": trans.To}
	case errors.As(err, &early):
		return map[string]any{"check_out": early.CheckOut, "today": early.Today}
	case errors.As(err, &ver):
		return map[string]any{"expected_version": ver.Expected}
	case errors.As(err, &busy):
		return map[string]any{"room_id": busy.RoomID}
	}
	return nil
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

func (h handlers) requirePermission(ctx context.Context, perm string) (Principal, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if err := h.policy.Require(principal.actor(), perm); err != nil {
		return Principal{}, err
	}
	return principal, nil
}

func (h handlers) has(p Principal, perm string) bool {
	return h.policy.Has(p.actor(), perm)
}

// visibleReservation loads a reservation the caller may see. Guests only see
// their own; anything else looks like it does not exist.
func (h handlers) visibleReservation(ctx context.Context, p Principal, id string) (domain.Reservation, error) {
	res, err := h.e.Get(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if res.GuestID != p.Subject && !h.has(p, auth.PermReservationsRead) {
		return domain.Reservation{}, domain.ReservationNotFoundError{ID: id}
	}
	return res, nil
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
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
	public := map[string]bool{
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
			if public[route] {
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
    <title>innkeep API Docs</title>
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

func registerMe(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			GuestID:     principal.Subject,
			Roles:       nonNilSlice(principal.Roles),
			Permissions: nonNilSlice(h.policy.Permissions(principal.actor())),
			Source:      principal.Source,
		}}, nil
	})
}

func registerStats(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Reservation counts by status",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatsResponse `json:"body"`
	}, error) {
		if _, err := h.requirePermission(ctx, auth.PermReservationsRead); err != nil {
			return nil, handleError(err)
		}
		stats, err := h.e.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatsResponse `json:"body"`
		}{Body: statsResponse(stats)}, nil
	})
}

func registerRooms(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-room",
		Method:        http.MethodPost,
		Path:          "/rooms",
		Summary:       "Add a room",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateRoomRequest `json:"body"`
	}) (*struct {
		Body RoomResponse `json:"body"`
	}, error) {
		if _, err := h.requirePermission(ctx, auth.PermRoomsManage); err != nil {
			return nil, handleError(err)
		}
		room, err := h.e.Rooms.Create(ctx, inventory.RoomInput{
			ID:          strings.TrimSpace(input.Body.ID),
			Name:        strings.TrimSpace(input.Body.Name),
			NightlyRate: input.Body.NightlyRate,
			Capacity:    input.Body.Capacity,
			Active:      input.Body.Active,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RoomResponse `json:"body"`
		}{Body: roomResponse(room)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rooms",
		Method:      http.MethodGet,
		Path:        "/rooms",
		Summary:     "List rooms",
	}, func(ctx context.Context, input *struct {
		IncludeInactive bool `query:"include_inactive" doc:"Staff only"`
	}) (*struct {
		Body []RoomResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.IncludeInactive && !h.has(principal, auth.PermRoomsManage) {
			return nil, handleError(auth.ForbiddenError{Permission: auth.PermRoomsManage})
		}
		rooms, err := h.e.Rooms.List(ctx, input.IncludeInactive)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RoomResponse `json:"body"`
		}{Body: mapRooms(rooms)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-room",
		Method:      http.MethodGet,
		Path:        "/rooms/{id}",
		Summary:     "Get a room",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RoomResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		room, err := h.e.Rooms.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RoomResponse `json:"body"`
		}{Body: roomResponse(room)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-room",
		Method:      http.MethodPatch,
		Path:        "/rooms/{id}",
		Summary:     "Edit or deactivate a room",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateRoomRequest `json:"body"`
	}) (*struct {
		Body RoomResponse `json:"body"`
	}, error) {
		if _, err := h.requirePermission(ctx, auth.PermRoomsManage); err != nil {
			return nil, handleError(err)
		}
		room, err := h.e.Rooms.Update(ctx, input.ID, inventory.RoomPatch{
			Name:        input.Body.Name,
			NightlyRate: input.Body.NightlyRate,
			Capacity:    input.Body.Capacity,
			Active:      input.Body.Active,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RoomResponse `json:"body"`
		}{Body: roomResponse(room)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-room-reservations",
		Method:      http.MethodGet,
		Path:        "/rooms/{id}/reservations",
		Summary:     "Reservations of a room in every status, by check-in",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		From string `query:"from" format:"date"`
		To   string `query:"to" format:"date"`
	}) (*struct {
		Body []ReservationResponse `json:"body"`
	}, error) {
		if _, err := h.requirePermission(ctx, auth.PermReservationsRead); err != nil {
			return nil, handleError(err)
		}
		window, err := optionalWindow(input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := h.e.ListForRoom(ctx, input.ID, window)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReservationResponse `json:"body"`
		}{Body: mapReservations(items)}, nil
	})
}

func registerAvailability(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "room-availability",
		Method:      http.MethodGet,
		Path:        "/rooms/{id}/availability",
		Summary:     "Check whether a room is free for a stay",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		CheckIn  string `query:"check_in" required:"true" format:"date"`
		CheckOut string `query:"check_out" required:"true" format:"date"`
	}) (*struct {
		Body AvailabilityResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		rng, err := parseRange("check_in", input.CheckIn, "check_out", input.CheckOut)
		if err != nil {
			return nil, handleError(err)
		}
		avail, err := h.e.IsAvailable(ctx, input.ID, rng)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AvailabilityResponse `json:"body"`
		}{Body: availabilityResponse(avail)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "room-free-ranges",
		Method:      http.MethodGet,
		Path:        "/rooms/{id}/free",
		Summary:     "Bookable gaps of a room inside a window",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		From string `query:"from" required:"true" format:"date"`
		To   string `query:"to" required:"true" format:"date"`
	}) (*struct {
		Body []DateRangeResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		window, err := parseRange("from", input.From, "to", input.To)
		if err != nil {
			return nil, handleError(err)
		}
		free, err := h.e.FreeRanges(ctx, input.ID, window)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DateRangeResponse `json:"body"`
		}{Body: mapRanges(free)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "room-quote",
		Method:      http.MethodGet,
		Path:        "/rooms/{id}/quote",
		Summary:     "Price a stay without booking it",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		CheckIn  string `query:"check_in" required:"true" format:"date"`
		CheckOut string `query:"check_out" required:"true" format:"date"`
		Guests   int    `query:"guests" default:"1" minimum:"1"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		rng, err := parseRange("check_in", input.CheckIn, "check_out", input.CheckOut)
		if err != nil {
			return nil, handleError(err)
		}
		total, err := h.e.Quote(ctx, input.ID, rng, input.Guests)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: QuoteResponse{
			RoomID:     input.ID,
			CheckIn:    domain.FormatDate(rng.CheckIn),
			CheckOut:   domain.FormatDate(rng.CheckOut),
			Nights:     rng.Nights(),
			GuestCount: input.Guests,
			TotalPrice: total.StringFixed(2),
		}}, nil
	})
}

func registerReservations(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-reservation",
		Method:        http.MethodPost,
		Path:          "/reservations",
		Summary:       "Book a room",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateReservationRequest `json:"body"`
	}) (*struct {
		Body ReservationResponse `json:"body"`
	}, error) {
		principal, err := h.requirePermission(ctx, auth.PermReservationsCreate)
		if err != nil {
			return nil, handleError(err)
		}
		guestID := strings.TrimSpace(input.Body.GuestID)
		if guestID == "" {
			guestID = principal.Subject
		}
		if guestID != principal.Subject && !h.has(principal, auth.PermReservationsRead) {
			return nil, handleError(auth.ForbiddenError{Permission: auth.PermReservationsRead})
		}
		checkIn, err := parseDateParam("check_in", input.Body.CheckIn)
		if err != nil {
			return nil, handleError(err)
		}
		checkOut, err := parseDateParam("check_out", input.Body.CheckOut)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := h.e.Create(ctx, engine.CreateRequest{
			RoomID:     strings.TrimSpace(input.Body.RoomID),
			GuestID:    guestID,
			GuestName:  input.Body.GuestName,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			GuestCount: input.Body.GuestCount,
			Notes:      input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReservationResponse `json:"body"`
		}{Body: reservationResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-reservations",
		Method:      http.MethodGet,
		Path:        "/reservations",
		Summary:     "Search reservations, newest first",
		Description: "Staff see every reservation; guests only their own.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status" doc:"Comma separated statuses"`
		RoomID  string `query:"room_id"`
		GuestID string `query:"guest_id"`
		From    string `query:"from" format:"date"`
		To      string `query:"to" format:"date"`
		Q       string `query:"q" doc:"Matches guest name, notes or id"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedReservations `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters := repo.ReservationFilters{
			RoomID:  strings.TrimSpace(input.RoomID),
			GuestID: strings.TrimSpace(input.GuestID),
			Query:   input.Q,
		}
		if !h.has(principal, auth.PermReservationsRead) {
			if filters.GuestID != "" && filters.GuestID != principal.Subject {
				return nil, handleError(auth.ForbiddenError{Permission: auth.PermReservationsRead})
			}
			filters.GuestID = principal.Subject
		}
		statuses, err := parseStatuses(input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		filters.Statuses = statuses
		if filters.Window, err = optionalWindow(input.From, input.To); err != nil {
			return nil, handleError(err)
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filters.CursorCreatedAt, filters.CursorID = cursorTS, cursorID
		limit := normalizeLimit(input.Limit)
		filters.Limit = limit + 1
		items, err := h.e.Search(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedReservations{}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = mapReservations(items)
		return &struct {
			Body paginatedReservations `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reservation",
		Method:      http.MethodGet,
		Path:        "/reservations/{id}",
		Summary:     "Get a reservation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ReservationResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.visibleReservation(ctx, principal, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReservationResponse `json:"body"`
		}{Body: reservationResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-reservation-status",
		Method:      http.MethodPost,
		Path:        "/reservations/{id}/status",
		Summary:     "Confirm, cancel or complete a reservation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SetStatusRequest `json:"body"`
	}) (*struct {
		Body ReservationResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.visibleReservation(ctx, principal, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := h.authorizeTransition(principal, res, domain.Status(input.Body.Status)); err != nil {
			return nil, handleError(err)
		}
		updated, err := h.e.Transition(ctx, engine.TransitionRequest{
			ID:              res.ID,
			Status:          input.Body.Status,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReservationResponse `json:"body"`
		}{Body: reservationResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reservation-transitions",
		Method:      http.MethodGet,
		Path:        "/reservations/{id}/transitions",
		Summary:     "Statuses a reservation may move to",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TransitionsResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.visibleReservation(ctx, principal, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionsResponse `json:"body"`
		}{Body: transitionsResponse(res)}, nil
	})
}

// authorizeTransition maps a target status to the permission it needs.
// Guests may cancel their own reservations.
func (h handlers) authorizeTransition(p Principal, res domain.Reservation, to domain.Status) error {
	actor := p.actor()
	switch to {
	case domain.StatusConfirmed:
		return h.policy.Require(actor, auth.PermConfirm)
	case domain.StatusCompleted:
		return h.policy.Require(actor, auth.PermComplete)
	case domain.StatusCancelled:
		if h.policy.Has(actor, auth.PermCancel) {
			return nil
		}
		if res.GuestID == p.Subject && h.policy.Has(actor, auth.PermCancelOwn) {
			return nil
		}
		return auth.ForbiddenError{Permission: auth.PermCancel}
	}
	return nil
}

func registerAdmin(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "rebuild-index",
		Method:      http.MethodPost,
		Path:        "/admin/index/rebuild",
		Summary:     "Reload the availability index from storage",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RoomID string `query:"room_id" doc:"Rebuild one room; empty rebuilds all"`
	}) (*struct {
		Body RebuildResponse `json:"body"`
	}, error) {
		if _, err := h.requirePermission(ctx, auth.PermIndexRebuild); err != nil {
			return nil, handleError(err)
		}
		var (
			n   int
			err error
		)
		if input.RoomID != "" {
			if _, err = h.e.Rooms.Get(ctx, input.RoomID); err == nil {
				n, err = h.e.RebuildRoom(ctx, input.RoomID)
			}
		} else {
			n, err = h.e.RebuildAll(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RebuildResponse `json:"body"`
		}{Body: RebuildResponse{RoomID: input.RoomID, Entries: n}}, nil
	})
}

func registerDevAuth(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		guest := strings.TrimSpace(input.Body.GuestID)
		if guest == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "guest_id is required", nil)
		}
		for _, role := range input.Body.Roles {
			if !h.policy.KnownRole(role) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown role %q", role), nil)
			}
		}
		token, err := signToken(h.auth.JWTSecret, guest, input.Body.Roles, devTokenTTL, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func parseDateParam(name, v string) (time.Time, error) {
	t, err := domain.ParseDate(strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, domain.ValidationError{Field: name, Reason: fmt.Sprintf("invalid date %q, want YYYY-MM-DD", v)}
	}
	return t, nil
}

func parseRange(fromName, from, toName, to string) (domain.DateRange, error) {
	in, err := parseDateParam(fromName, from)
	if err != nil {
		return domain.DateRange{}, err
	}
	out, err := parseDateParam(toName, to)
	if err != nil {
		return domain.DateRange{}, err
	}
	return domain.NewDateRange(in, out)
}

// optionalWindow accepts both bounds or neither.
func optionalWindow(from, to string) (*domain.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" || to == "" {
		return nil, domain.ValidationError{Field: "from", Reason: "from and to must be given together"}
	}
	w, err := parseRange("from", from, "to", to)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func parseStatuses(raw string) ([]domain.Status, error) {
	var out []domain.Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s, err := domain.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
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

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
