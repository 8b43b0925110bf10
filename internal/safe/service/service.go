// Package service runs safe instructions. Each handler evaluates access
// control against freshly loaded records without mutating anything, then
// builds a plan (new record values, asset effects, audit event) that the
// processor commits as one unit.
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"safe/internal/safe/metrics"
	"safe/internal/safe/ports"
	"safe/internal/safe/store"
	"safe/pkg/domain"
)

// Type aliases for interfaces from the ports package.
type (
	Clock          = ports.Clock
	AssetLedger    = ports.AssetLedger
	AuditPublisher = ports.AuditPublisher
)

// SlashPolicy decides where slashed value goes.
type SlashPolicy string

const (
	// SlashRetain leaves forfeited value in the vault under the authority's control.
	SlashRetain SlashPolicy = "retain"
	// SlashReclaim transfers forfeited value to an account named by the slasher.
	SlashReclaim SlashPolicy = "reclaim"
)

// ParseSlashPolicy accepts "retain" or "reclaim".
func ParseSlashPolicy(s string) (SlashPolicy, error) {
	switch p := SlashPolicy(s); p {
	case SlashRetain, SlashReclaim:
		return p, nil
	default:
		return "", fmt.Errorf("unknown slash policy %q", s)
	}
}

type Service struct {
	program        domain.ProgramID
	tx             store.Tx
	assets         AssetLedger
	clock          Clock
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	slashPolicy    SlashPolicy
	newID          func() domain.AccountID
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithSlashPolicy(p SlashPolicy) Option {
	return func(s *Service) {
		s.slashPolicy = p
	}
}

// WithIDGenerator overrides how receipt IDs are allocated.
func WithIDGenerator(fn func() domain.AccountID) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

func New(program domain.ProgramID, tx store.Tx, assets AssetLedger, clock Clock, opts ...Option) (*Service, error) {
	if program.IsNil() {
		return nil, errors.New("program id is required")
	}
	if tx == nil {
		return nil, errors.New("store is required")
	}
	if assets == nil {
		return nil, errors.New("asset ledger is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}

	svc := &Service{
		program:     program,
		tx:          tx,
		assets:      assets,
		clock:       clock,
		logger:      slog.Default(),
		tracer:      otel.Tracer("safe/service"),
		slashPolicy: SlashRetain,
		newID:       domain.NewAccountID,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if _, err := ParseSlashPolicy(string(svc.slashPolicy)); err != nil {
		return nil, err
	}
	return svc, nil
}

// Program returns the program ID that owns this service's records.
func (s *Service) Program() domain.ProgramID {
	return s.program
}
