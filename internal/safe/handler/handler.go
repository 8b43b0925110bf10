package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"safe/internal/platform/metrics"
	"safe/internal/platform/middleware"
	"safe/internal/platform/ratelimit"
	"safe/internal/safe/idempotency"
	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/internal/safe/service"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/httputil"
	authmw "safe/pkg/platform/middleware/auth"
	"safe/pkg/platform/middleware/metadata"
	"safe/pkg/platform/middleware/requesttime"
	"safe/pkg/requestcontext"
)

// IdempotencyKeyHeader opts a submission into replay protection.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayedHeader marks a response served from the idempotency store.
const ReplayedHeader = "Idempotent-Replayed"

const requestTimeout = 30 * time.Second

// Service is the ledger surface the handler drives.
type Service interface {
	Process(ctx context.Context, env instruction.Envelope) (*service.Result, error)
	Registry(ctx context.Context, id domain.AccountID) (*models.SafeRegistry, error)
	Ledger(ctx context.Context, id domain.AccountID) (*models.VestingLedger, error)
	Available(ctx context.Context, id domain.AccountID) (*service.Availability, error)
	Receipt(ctx context.Context, id domain.AccountID) (*models.Receipt, error)
}

// Handler wires the ledger API to the service.
type Handler struct {
	service     Service
	validator   authmw.JWTValidator
	logger      *slog.Logger
	metrics     *metrics.Metrics
	idempotency idempotency.Store
	limiter     *ratelimit.Limiter
}

// Option configures a Handler.
type Option func(*Handler)

// WithIdempotency enables Idempotency-Key handling.
func WithIdempotency(store idempotency.Store) Option {
	return func(h *Handler) {
		h.idempotency = store
	}
}

// WithMetrics records request latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithRateLimit throttles submissions per client IP.
func WithRateLimit(l *ratelimit.Limiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

// New constructs a handler. validator attests instruction signers.
func New(svc Service, validator authmw.JWTValidator, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:   svc,
		validator: validator,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the /v1 API on r.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(requesttime.Middleware)
	api.Use(metadata.ClientMetadata)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.Timeout(requestTimeout))
	api.Use(middleware.ContentTypeJSON)
	api.Use(middleware.LatencyMiddleware(h.metrics))

	api.With(
		ratelimit.Middleware(h.limiter, h.logger),
		authmw.RequireSigners(h.validator, h.logger),
	).Post("/instructions", h.HandleSubmit)
	api.Get("/registries/{id}", h.HandleGetRegistry)
	api.Get("/ledgers/{id}", h.HandleGetLedger)
	api.Get("/ledgers/{id}/available", h.HandleGetAvailable)
	api.Get("/receipts/{id}", h.HandleGetReceipt)

	r.Mount("/v1", api)
}

// HandleSubmit handles POST /v1/instructions.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, err := httputil.ReadBody(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	env, err := instruction.Decode(body)
	if err != nil {
		h.logger.WarnContext(ctx, "instruction decode failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if err := requireAttestedSigners(ctx, env); err != nil {
		h.logger.WarnContext(ctx, "instruction signer not attested",
			"request_id", requestID,
			"kind", env.Kind(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" || h.idempotency == nil {
		h.submit(w, r, env)
		return
	}
	h.submitOnce(w, r, env, key, idempotency.Fingerprint(body))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, env instruction.Envelope) {
	res, err := h.service.Process(r.Context(), env)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// submitOnce runs env at most once per key. Only committed results are
// stored; a rejected submission releases the key so the client may retry.
func (h *Handler) submitOnce(w http.ResponseWriter, r *http.Request, env instruction.Envelope, key, fingerprint string) {
	ctx := r.Context()
	stored, err := h.idempotency.Reserve(ctx, key, fingerprint)
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "a request with this idempotency key is in progress"))
		return
	case errors.Is(err, idempotency.ErrMismatch):
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "idempotency key was used with a different instruction"))
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "idempotency store unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "idempotency store unavailable"))
		return
	case stored != nil:
		w.Header().Set(ReplayedHeader, "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
		return
	}

	completed := false
	defer func() {
		if !completed {
			if err := h.idempotency.Release(context.WithoutCancel(ctx), key); err != nil {
				h.logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
			}
		}
	}()

	res, err := h.service.Process(ctx, env)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "encode result"))
		return
	}
	// The instruction committed; from here the key must never be released.
	completed = true
	if err := h.idempotency.Complete(context.WithoutCancel(ctx), key, idempotency.Response{
		Fingerprint: fingerprint,
		Status:      http.StatusOK,
		Body:        payload,
	}); err != nil {
		h.logger.ErrorContext(ctx, "failed to record idempotent response",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// requireAttestedSigners checks that every account the envelope flags as a
// signer was attested by the bearer token.
func requireAttestedSigners(ctx context.Context, env instruction.Envelope) error {
	for _, meta := range env.Accounts {
		if meta.Signer && !requestcontext.HasSigner(ctx, meta.ID) {
			return dErrors.New(dErrors.CodeUnauthorized, "signature for account "+meta.ID.String()+" was not attested")
		}
	}
	return nil
}

// HandleGetRegistry handles GET /v1/registries/{id}.
func (h *Handler) HandleGetRegistry(w http.ResponseWriter, r *http.Request) {
	get(w, r, h.service.Registry)
}

// HandleGetLedger handles GET /v1/ledgers/{id}.
func (h *Handler) HandleGetLedger(w http.ResponseWriter, r *http.Request) {
	get(w, r, h.service.Ledger)
}

// HandleGetAvailable handles GET /v1/ledgers/{id}/available.
func (h *Handler) HandleGetAvailable(w http.ResponseWriter, r *http.Request) {
	get(w, r, h.service.Available)
}

// HandleGetReceipt handles GET /v1/receipts/{id}.
func (h *Handler) HandleGetReceipt(w http.ResponseWriter, r *http.Request) {
	get(w, r, h.service.Receipt)
}

func get[T any](w http.ResponseWriter, r *http.Request, load func(context.Context, domain.AccountID) (*T, error)) {
	id, err := domain.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := load(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}
