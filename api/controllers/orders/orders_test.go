package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/api/middleware"
	internalorders "github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

type stubOrdersService struct {
	status     func(ctx context.Context, reference string, viewer internalorders.Viewer) (*internalorders.OrderStatus, error)
	transition func(ctx context.Context, input internalorders.DeliveryTransitionInput) (*internalorders.SubOrderDTO, error)
}

func (s stubOrdersService) StatusByReference(ctx context.Context, reference string, viewer internalorders.Viewer) (*internalorders.OrderStatus, error) {
	return s.status(ctx, reference, viewer)
}

func (s stubOrdersService) TransitionDelivery(ctx context.Context, input internalorders.DeliveryTransitionInput) (*internalorders.SubOrderDTO, error) {
	return s.transition(ctx, input)
}

func newRequest(method, target, body string, userID uuid.UUID, role enums.ActorRole, params map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := middleware.WithActor(req.Context(), userID.String(), role)
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(ctx, chi.RouteCtxKey, rc))
}

func TestStatusByReferenceReturnsQueueState(t *testing.T) {
	buyerID := uuid.New()
	svc := stubOrdersService{
		status: func(ctx context.Context, reference string, viewer internalorders.Viewer) (*internalorders.OrderStatus, error) {
			if reference != "pay_123" {
				t.Fatalf("unexpected reference %q", reference)
			}
			if viewer.UserID != buyerID || viewer.Role != enums.ActorRoleBuyer {
				t.Fatalf("unexpected viewer %+v", viewer)
			}
			queued := enums.FulfillmentJobQueued
			return &internalorders.OrderStatus{TransactionReference: reference, QueueStatus: &queued}, nil
		},
	}

	req := newRequest(http.MethodGet, "/api/v1/orders/pay_123", "", buyerID, enums.ActorRoleBuyer, map[string]string{"reference": "pay_123"})
	resp := httptest.NewRecorder()
	StatusByReference(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data struct {
			QueueStatus string          `json:"queue_status"`
			Order       json.RawMessage `json:"order"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.QueueStatus != "queued" {
		t.Fatalf("unexpected queue status %q", envelope.Data.QueueStatus)
	}
	if len(envelope.Data.Order) != 0 {
		t.Fatalf("order should be omitted before fulfillment, got %s", envelope.Data.Order)
	}
}

func TestStatusByReferenceNotFound(t *testing.T) {
	svc := stubOrdersService{
		status: func(context.Context, string, internalorders.Viewer) (*internalorders.OrderStatus, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		},
	}
	req := newRequest(http.MethodGet, "/api/v1/orders/nope", "", uuid.New(), enums.ActorRoleBuyer, map[string]string{"reference": "nope"})
	resp := httptest.NewRecorder()
	StatusByReference(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestTransitionDeliveryPassesActor(t *testing.T) {
	sellerID := uuid.New()
	subOrderID := uuid.New()
	svc := stubOrdersService{
		transition: func(ctx context.Context, input internalorders.DeliveryTransitionInput) (*internalorders.SubOrderDTO, error) {
			if input.SubOrderID != subOrderID || input.To != enums.DeliveryOutForDelivery {
				t.Fatalf("unexpected input %+v", input)
			}
			if input.ActorUserID != sellerID || input.ActorRole != enums.ActorRoleSeller {
				t.Fatalf("unexpected actor %+v", input)
			}
			if input.TrackingNumber == nil || *input.TrackingNumber != "1Z999" {
				t.Fatalf("tracking number not forwarded")
			}
			return &internalorders.SubOrderDTO{ID: subOrderID, SellerID: sellerID, DeliveryStatus: input.To}, nil
		},
	}

	body := `{"status":"out_for_delivery","tracking_carrier":"ups","tracking_number":"1Z999"}`
	req := newRequest(http.MethodPost, "/api/v1/sub-orders/"+subOrderID.String()+"/delivery-status", body, sellerID, enums.ActorRoleSeller, map[string]string{"subOrderId": subOrderID.String()})
	resp := httptest.NewRecorder()
	TransitionDelivery(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestTransitionDeliveryRejectsUnknownStatus(t *testing.T) {
	svc := stubOrdersService{
		transition: func(context.Context, internalorders.DeliveryTransitionInput) (*internalorders.SubOrderDTO, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}
	subOrderID := uuid.New()
	req := newRequest(http.MethodPost, "/", `{"status":"teleported"}`, uuid.New(), enums.ActorRoleCourier, map[string]string{"subOrderId": subOrderID.String()})
	resp := httptest.NewRecorder()
	TransitionDelivery(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestTransitionDeliveryMapsStateConflict(t *testing.T) {
	svc := stubOrdersService{
		transition: func(context.Context, internalorders.DeliveryTransitionInput) (*internalorders.SubOrderDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invalid delivery transition")
		},
	}
	subOrderID := uuid.New()
	req := newRequest(http.MethodPost, "/", `{"status":"delivered"}`, uuid.New(), enums.ActorRoleCourier, map[string]string{"subOrderId": subOrderID.String()})
	resp := httptest.NewRecorder()
	TransitionDelivery(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
}
