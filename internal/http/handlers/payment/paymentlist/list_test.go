package paymentlist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/employer-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) ListPayments(ctx context.Context, employerID string, limit, offset int) ([]*models.Payment, error) {
	args := m.Called(ctx, employerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestPaymentListHandler(t *testing.T) {
	payments := []*models.Payment{
		{ID: "pay-2", NetAmount: decimal.RequireFromString("100.00"), Status: models.PaymentSuccess, IsRenewal: true},
		{ID: "pay-1", NetAmount: decimal.RequireFromString("75.50"), Status: models.PaymentSuccess},
	}

	tests := []struct {
		name           string
		url            string
		employerID     string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:       "defaults",
			url:        "/api/v1/payments",
			employerID: "emp-1",
			setupMock: func(m *MockService) {
				m.On("ListPayments", mock.Anything, "emp-1", 0, 0).Return(payments, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"list_count":2`,
		},
		{
			name:       "pagination",
			url:        "/api/v1/payments?limit=1&offset=1",
			employerID: "emp-1",
			setupMock: func(m *MockService) {
				m.On("ListPayments", mock.Anything, "emp-1", 1, 1).Return(payments[1:], nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"net_amount":"75.5"`,
		},
		{
			name:           "invalid limit",
			url:            "/api/v1/payments?limit=ten",
			employerID:     "emp-1",
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"error":"invalid limit"`,
		},
		{
			name:           "unauthorized",
			url:            "/api/v1/payments",
			setupMock:      func(*MockService) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:       "storage error",
			url:        "/api/v1/payments",
			employerID: "emp-1",
			setupMock: func(m *MockService) {
				m.On("ListPayments", mock.Anything, "emp-1", 0, 0).Return(nil, errors.New("db down")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `"error":"internal error"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.employerID != "" {
				req = req.WithContext(context.WithValue(req.Context(), middlewarectx.EmployerID, tt.employerID))
			}
			w := httptest.NewRecorder()

			New(newNoopLogger(), svc).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}
