package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/internal/safe/ports"
	"safe/internal/safe/store"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/platform/audit"
	"safe/pkg/requestcontext"
)

// Process validates and runs one instruction. It returns a Result when every
// record write, asset effect and audit event committed, and exactly one coded
// error otherwise. An internal invariant violation panics after the store
// transaction and the prepared effects are rolled back.
func (s *Service) Process(ctx context.Context, env instruction.Envelope) (_ *Result, err error) {
	start := time.Now()
	kind := env.Kind()
	ctx, span := s.tracer.Start(ctx, "safe.Process", trace.WithAttributes(
		attribute.String("safe.instruction.kind", string(kind)),
		attribute.Int("safe.instruction.accounts", len(env.Accounts)),
	))
	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "invariant violation")
			span.End()
			if s.metrics != nil {
				s.metrics.ObserveTransition(string(kind), "invariant_violation", start)
			}
			s.logger.ErrorContext(ctx, "CRITICAL: invariant violated, transition aborted",
				"kind", kind,
				"panic", r,
			)
			panic(r)
		}
		outcome := "ok"
		if err != nil {
			outcome = string(dErrors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		if s.metrics != nil {
			s.metrics.ObserveTransition(string(kind), outcome, start)
		}
	}()

	if err := env.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now(ctx)
	span.SetAttributes(attribute.Int64("safe.slot", int64(now)))
	keys := env.Keys()
	var receiptIDs []domain.AccountID
	if p, ok := env.Payload.(instruction.MintReceipt); ok {
		receiptIDs = make([]domain.AccountID, p.Units)
		for i := range receiptIDs {
			receiptIDs[i] = s.newID()
		}
		keys = append(keys, receiptIDs...)
	}

	var (
		pending ports.Pending
		pl      *plan
	)
	defer func() {
		// Covers errors and panics alike; Commit below clears pending.
		if pending != nil {
			pending.Abort()
		}
	}()

	err = s.tx.RunInTx(ctx, keys, func(txCtx context.Context, st store.Store) error {
		var err error
		pl, err = s.dispatch(txCtx, st, env, now, receiptIDs)
		if err != nil {
			return err
		}
		if len(pl.effects) > 0 {
			pending, err = s.assets.Prepare(txCtx, pl.effects)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeTransferFailed, "asset transfer failed")
			}
		}
		if err := pl.persist(txCtx, st); err != nil {
			return err
		}
		return s.emit(txCtx, kind, pl, now)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "instruction rejected",
			"kind", kind,
			"code", dErrors.CodeOf(err),
			"slot", now,
			"error", err,
		)
		return nil, err
	}
	if pending != nil {
		pending.Commit()
		pending = nil
	}

	result := &Result{
		Kind:     kind,
		Slot:     now,
		Registry: pl.registryView(),
		Ledger:   pl.ledgerView(),
		Receipts: receiptIDs,
	}
	s.observe(pl)
	s.logger.InfoContext(ctx, "instruction committed",
		"kind", kind,
		"slot", now,
		"amount", pl.amount,
		"units", pl.units,
	)
	return result, nil
}

// dispatch routes the payload to its handler. The switch must stay exhaustive
// over instruction.Kinds.
func (s *Service) dispatch(ctx context.Context, st store.Store, env instruction.Envelope, now models.Slot, receiptIDs []domain.AccountID) (*plan, error) {
	switch p := env.Payload.(type) {
	case instruction.Initialize:
		return s.initialize(ctx, st, env, p)
	case instruction.Deposit:
		return s.deposit(ctx, st, env, p, now)
	case instruction.MintReceipt:
		return s.mintReceipt(ctx, st, env, p, receiptIDs)
	case instruction.BurnReceipt:
		return s.burnReceipt(ctx, st, env)
	case instruction.Withdraw:
		return s.withdraw(ctx, st, env, p, now)
	case instruction.Slash:
		return s.slash(ctx, st, env, p)
	case instruction.SetAuthority:
		return s.setAuthority(ctx, st, env, p)
	default:
		return nil, dErrors.New(dErrors.CodeDecode, fmt.Sprintf("unhandled instruction %T", p))
	}
}

func (s *Service) emit(ctx context.Context, kind instruction.Kind, pl *plan, now models.Slot) error {
	if s.auditPublisher == nil {
		return nil
	}
	event := audit.Event{
		Timestamp:    requestcontext.Now(ctx),
		Action:       string(pl.event),
		Actor:        pl.actor,
		Counterparty: pl.peer,
		Amount:       pl.amount,
		Units:        pl.units,
		Slot:         uint64(now),
		RequestID:    requestcontext.RequestID(ctx),
	}
	if r := pl.registryView(); r != nil {
		event.Registry = r.ID
	}
	if l := pl.ledgerView(); l != nil {
		event.Ledger = l.ID
		event.Registry = l.Safe
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("audit %s", kind))
	}
	return nil
}

func (s *Service) observe(pl *plan) {
	if s.metrics == nil {
		return
	}
	if r := pl.registryView(); r != nil {
		s.metrics.SetOutstandingValue(r.ID.String(), r.TotalOutstandingValue)
	}
	switch pl.event {
	case audit.EventReceiptsMinted:
		s.metrics.AddReceipts(int(pl.units))
	case audit.EventReceiptsBurned:
		s.metrics.AddReceipts(-int(pl.units))
	}
}
