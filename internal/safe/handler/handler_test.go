package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	jwttoken "safe/internal/jwt_token"
	"safe/internal/platform/metrics"
	"safe/internal/safe/handler/mocks"
	"safe/internal/safe/idempotency"
	"safe/internal/safe/instruction"
	"safe/internal/safe/models"
	"safe/internal/safe/service"
	"safe/pkg/domain"
	dErrors "safe/pkg/domain-errors"
	"safe/pkg/testutil"
)

// =============================================================================
// Handler Test Suite
// =============================================================================
// Drives the /v1 router with a mocked service and real signer tokens.

type HandlerSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	service     *mocks.MockService
	tokens      *jwttoken.JWTService
	idempotency *idempotency.InMemoryStore
	router      chi.Router

	beneficiary domain.AccountID
	ledger      domain.AccountID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	s.tokens = jwttoken.NewJWTService("test-key", "test-issuer", "safe")
	s.idempotency = idempotency.NewInMemoryStore()
	s.beneficiary = domain.NewAccountID()
	s.ledger = domain.NewAccountID()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.service, jwttoken.NewJWTServiceAdapter(s.tokens), logger,
		WithIdempotency(s.idempotency),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) token(signers ...domain.AccountID) string {
	tok, err := s.tokens.GenerateSignerToken(signers, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *HandlerSuite) withdrawBody(amount uint64) []byte {
	env := instruction.NewWithdraw(s.beneficiary, s.ledger, domain.NewAccountID(), domain.NewAccountID(), domain.NewAccountID(), amount)
	body, err := instruction.Encode(env)
	s.Require().NoError(err)
	return body
}

func (s *HandlerSuite) submit(body []byte, token string, idemKey string) *http.Request {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/instructions", body)
	if token != "" {
		testutil.WithBearer(req, token)
	}
	if idemKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idemKey)
	}
	return req
}

func (s *HandlerSuite) committed() *service.Result {
	return &service.Result{Kind: instruction.KindWithdraw, Slot: 12}
}

// =============================================================================
// Submit Tests
// =============================================================================

func (s *HandlerSuite) TestSubmit() {
	s.Run("missing token is unauthorized", func() {
		s.service.EXPECT().Process(gomock.Any(), gomock.Any()).Times(0)
		rr := testutil.DoRequest(s.router, s.submit(s.withdrawBody(10), "", ""))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("unattested signer is rejected before processing", func() {
		s.service.EXPECT().Process(gomock.Any(), gomock.Any()).Times(0)
		rr := testutil.DoRequest(s.router, s.submit(s.withdrawBody(10), s.token(domain.NewAccountID()), ""))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeUnauthorized))
	})

	s.Run("malformed envelope is a decode error", func() {
		s.service.EXPECT().Process(gomock.Any(), gomock.Any()).Times(0)
		rr := testutil.DoRequest(s.router, s.submit([]byte(`{"kind":"withdraw","payload":{"amount":0}}`), s.token(s.beneficiary), ""))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeDecode))
	})

	s.Run("committed instruction returns result", func() {
		s.service.EXPECT().Process(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ any, env instruction.Envelope) (*service.Result, error) {
				s.Equal(instruction.Withdraw{Amount: 10}, env.Payload)
				return s.committed(), nil
			})
		rr := testutil.DoRequest(s.router, s.submit(s.withdrawBody(10), s.token(s.beneficiary), ""))
		s.Equal(http.StatusOK, rr.Code, rr.Body.String())
		res := testutil.UnmarshalResponse[service.Result](s.T(), rr)
		s.Equal(instruction.KindWithdraw, res.Kind)
		s.Equal(models.Slot(12), res.Slot)
		s.NotEmpty(rr.Header().Get("X-Request-ID"))
	})

	s.Run("ledger rejection maps to its status", func() {
		s.service.EXPECT().Process(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInsufficientUnlockedBalance, "requested 500, 400 withdrawable"))
		rr := testutil.DoRequest(s.router, s.submit(s.withdrawBody(500), s.token(s.beneficiary), ""))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeInsufficientUnlockedBalance))
	})

	s.Run("invariant panic becomes internal error", func() {
		s.service.EXPECT().Process(gomock.Any(), gomock.Any()).DoAndReturn(
			func(any, instruction.Envelope) (*service.Result, error) {
				panic(models.InvariantViolation{Record: s.ledger, Detail: "broken"})
			})
		rr := testutil.DoRequest(s.router, s.submit(s.withdrawBody(10), s.token(s.beneficiary), ""))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
	})
}

// =============================================================================
// Idempotency Tests
// =============================================================================

func (s *HandlerSuite) TestIdempotentSubmit() {
	t := s.T()
	body := s.withdrawBody(10)
	token := s.token(s.beneficiary)

	testutil.Given(t, "a committed submission under a key", func(t *testing.T) {
		s.service.EXPECT().Process(gomock.Any(), gomock.Any()).Return(s.committed(), nil).Times(1)
		first := testutil.DoRequest(s.router, s.submit(body, token, "key-1"))
		require.Equal(t, http.StatusOK, first.Code)

		testutil.When(t, "the same body is resubmitted", func(t *testing.T) {
			again := testutil.DoRequest(s.router, s.submit(body, token, "key-1"))

			testutil.Then(t, "the first result is replayed without processing", func(t *testing.T) {
				assert.Equal(t, http.StatusOK, again.Code)
				assert.Equal(t, "true", again.Header().Get(ReplayedHeader))
				assert.JSONEq(t, first.Body.String(), again.Body.String())
			})
		})

		testutil.When(t, "a different body reuses the key", func(t *testing.T) {
			other := testutil.DoRequest(s.router, s.submit(s.withdrawBody(11), token, "key-1"))

			testutil.Then(t, "it is rejected", func(t *testing.T) {
				testutil.AssertStatusAndError(t, other, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
			})
		})
	})

	testutil.Given(t, "a rejected submission under a key", func(t *testing.T) {
		gomock.InOrder(
			s.service.EXPECT().Process(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(dErrors.CodeTransferFailed, "asset ledger down")),
			s.service.EXPECT().Process(gomock.Any(), gomock.Any()).Return(s.committed(), nil),
		)
		rejected := testutil.DoRequest(s.router, s.submit(body, token, "key-2"))
		require.Equal(t, http.StatusBadGateway, rejected.Code)

		testutil.Then(t, "a retry runs the instruction again", func(t *testing.T) {
			retry := testutil.DoRequest(s.router, s.submit(body, token, "key-2"))
			assert.Equal(t, http.StatusOK, retry.Code)
			assert.Empty(t, retry.Header().Get(ReplayedHeader))
		})
	})

	testutil.Given(t, "a key held by an in-flight request", func(t *testing.T) {
		_, err := s.idempotency.Reserve(t.Context(), "key-3", idempotency.Fingerprint(body))
		require.NoError(t, err)

		testutil.Then(t, "a concurrent submission conflicts", func(t *testing.T) {
			rr := testutil.DoRequest(s.router, s.submit(body, token, "key-3"))
			testutil.AssertStatusAndError(t, rr, http.StatusConflict, string(dErrors.CodeConflict))
		})
	})
}

// =============================================================================
// Query Tests
// =============================================================================

func (s *HandlerSuite) TestQueries() {
	s.Run("ledger is returned", func() {
		s.service.EXPECT().Ledger(gomock.Any(), s.ledger).Return(&models.VestingLedger{
			ID:             s.ledger,
			Owner:          domain.NewProgramID(),
			Safe:           domain.NewAccountID(),
			Beneficiary:    s.beneficiary,
			TotalDeposited: 1000,
		}, nil)
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/ledgers/"+s.ledger.String(), nil))
		s.Equal(http.StatusOK, rr.Code)
		l := testutil.UnmarshalResponse[models.VestingLedger](s.T(), rr)
		s.Equal(uint64(1000), l.TotalDeposited)
	})

	s.Run("availability is returned", func() {
		s.service.EXPECT().Available(gomock.Any(), s.ledger).Return(&service.Availability{Slot: 15, Unlocked: 400, Withdrawable: 400}, nil)
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/ledgers/"+s.ledger.String()+"/available", nil))
		s.Equal(http.StatusOK, rr.Code)
		a := testutil.UnmarshalResponse[service.Availability](s.T(), rr)
		s.Equal(uint64(400), a.Withdrawable)
	})

	s.Run("malformed id is invalid input", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/registries/not-a-uuid", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})

	s.Run("unknown receipt is not found", func() {
		id := domain.NewAccountID()
		s.service.EXPECT().Receipt(gomock.Any(), id).Return(nil, dErrors.New(dErrors.CodeNotFound, "receipt not found"))
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/receipts/"+id.String(), nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})

	s.Run("registry store failure hides detail", func() {
		id := domain.NewAccountID()
		s.service.EXPECT().Registry(gomock.Any(), id).Return(nil, errors.New("pool exhausted"))
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/registries/"+id.String(), nil))
		s.Equal(http.StatusInternalServerError, rr.Code)
		s.NotContains(rr.Body.String(), "pool exhausted")
	})
}
