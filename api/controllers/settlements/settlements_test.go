package settlements

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	internalsettlements "github.com/angelmondragon/marketplace-fulfillment/internal/settlements"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

type stubLedger struct {
	listFn    func(ctx context.Context, sellerID uuid.UUID, params internalsettlements.ListParams) (*internalsettlements.ListResult, error)
	accountFn func(ctx context.Context, sellerID uuid.UUID) (*internalsettlements.AccountView, error)
}

func (s stubLedger) ListBySeller(ctx context.Context, sellerID uuid.UUID, params internalsettlements.ListParams) (*internalsettlements.ListResult, error) {
	return s.listFn(ctx, sellerID, params)
}

func (s stubLedger) Account(ctx context.Context, sellerID uuid.UUID) (*internalsettlements.AccountView, error) {
	return s.accountFn(ctx, sellerID)
}

type stubTransitions struct {
	calls  []string
	last   string
	record *models.SettlementRecord
	err    error
}

func (s *stubTransitions) MarkProcessing(_ context.Context, _ uuid.UUID, ref string) (*models.SettlementRecord, error) {
	s.calls = append(s.calls, "processing")
	s.last = ref
	return s.record, s.err
}

func (s *stubTransitions) MarkPaid(_ context.Context, _ uuid.UUID, ref string) (*models.SettlementRecord, error) {
	s.calls = append(s.calls, "paid")
	s.last = ref
	return s.record, s.err
}

func (s *stubTransitions) MarkFailed(_ context.Context, _ uuid.UUID, reason string) (*models.SettlementRecord, error) {
	s.calls = append(s.calls, "failed")
	s.last = reason
	return s.record, s.err
}

func (s *stubTransitions) RetryFailed(_ context.Context, _ uuid.UUID) (*models.SettlementRecord, error) {
	s.calls = append(s.calls, "retry")
	return s.record, s.err
}

func routed(req *http.Request, kv ...string) *http.Request {
	rc := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rc.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestListParsesStatusFilter(t *testing.T) {
	sellerID := uuid.New()
	recordID := uuid.New()
	svc := stubLedger{
		listFn: func(ctx context.Context, gotSeller uuid.UUID, params internalsettlements.ListParams) (*internalsettlements.ListResult, error) {
			require.Equal(t, sellerID, gotSeller)
			require.NotNil(t, params.Status)
			require.Equal(t, enums.PayoutStatusPending, *params.Status)
			require.Equal(t, 10, params.Limit)
			return &internalsettlements.ListResult{
				Items:      []models.SettlementRecord{{ID: recordID, SellerID: sellerID, SettleCents: 950, PayoutStatus: enums.PayoutStatusPending}},
				NextCursor: "c2",
			}, nil
		},
	}

	req := routed(httptest.NewRequest(http.MethodGet, "/api/v1/sellers/x/settlements?status=pending&limit=10", nil), "sellerId", sellerID.String())
	resp := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data listResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data.Items, 1)
	require.Equal(t, recordID, envelope.Data.Items[0].ID)
	require.EqualValues(t, 950, envelope.Data.Items[0].SettleCents)
	require.Equal(t, "c2", envelope.Data.NextCursor)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	req := routed(httptest.NewRequest(http.MethodGet, "/?status=lost", nil), "sellerId", uuid.NewString())
	resp := httptest.NewRecorder()
	List(stubLedger{}, nil).ServeHTTP(resp, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAccountReturnsBalances(t *testing.T) {
	sellerID := uuid.New()
	svc := stubLedger{
		accountFn: func(ctx context.Context, gotSeller uuid.UUID) (*internalsettlements.AccountView, error) {
			return &internalsettlements.AccountView{SellerID: gotSeller, PendingBalanceCents: 1200, TotalEarningsCents: 800}, nil
		},
	}
	req := routed(httptest.NewRequest(http.MethodGet, "/", nil), "sellerId", sellerID.String())
	resp := httptest.NewRecorder()
	Account(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data internalsettlements.AccountView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.EqualValues(t, 1200, envelope.Data.PendingBalanceCents)
	require.EqualValues(t, 800, envelope.Data.TotalEarningsCents)
}

func TestPayoutTransitions(t *testing.T) {
	id := uuid.New()
	svc := &stubTransitions{record: &models.SettlementRecord{ID: id, PayoutStatus: enums.PayoutStatusProcessing}}

	resp := httptest.NewRecorder()
	MarkProcessing(svc, nil).ServeHTTP(resp, routed(httptest.NewRequest(http.MethodPost, "/", nil), "settlementId", id.String()))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "", svc.last)

	resp = httptest.NewRecorder()
	MarkPaid(svc, nil).ServeHTTP(resp, routed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"payout_reference":"po_9"}`)), "settlementId", id.String()))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "po_9", svc.last)

	resp = httptest.NewRecorder()
	MarkFailed(svc, nil).ServeHTTP(resp, routed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":" bank rejected "}`)), "settlementId", id.String()))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "bank rejected", svc.last)

	resp = httptest.NewRecorder()
	RetryFailed(svc, nil).ServeHTTP(resp, routed(httptest.NewRequest(http.MethodPost, "/", nil), "settlementId", id.String()))
	require.Equal(t, http.StatusOK, resp.Code)

	require.Equal(t, []string{"processing", "paid", "failed", "retry"}, svc.calls)
}

func TestMarkFailedRequiresReason(t *testing.T) {
	svc := &stubTransitions{}
	resp := httptest.NewRecorder()
	MarkFailed(svc, nil).ServeHTTP(resp, routed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)), "settlementId", uuid.NewString()))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Empty(t, svc.calls)
}

func TestTransitionConflictIsUnprocessable(t *testing.T) {
	svc := &stubTransitions{err: pkgerrors.New(pkgerrors.CodeStateConflict, "settlement is not in the expected payout status")}
	resp := httptest.NewRecorder()
	RetryFailed(svc, nil).ServeHTTP(resp, routed(httptest.NewRequest(http.MethodPost, "/", nil), "settlementId", uuid.NewString()))
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}
