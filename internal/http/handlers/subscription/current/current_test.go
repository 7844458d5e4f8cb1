package current

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/employer-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/employer-billing/internal/lib/apperr"
	"github.com/magabrotheeeer/employer-billing/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Current(ctx context.Context, employerID string) (*models.Subscription, error) {
	args := m.Called(ctx, employerID)
	if res := args.Get(0); res != nil {
		return res.(*models.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestCurrentHandler(t *testing.T) {
	tests := []struct {
		name           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "active subscription",
			setupMock: func(m *MockService) {
				m.On("Current", mock.Anything, "emp-1").
					Return(&models.Subscription{ID: "sub-1", Status: models.SubscriptionActive, AutoRenewal: true}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"active"`,
		},
		{
			name: "no subscriptions",
			setupMock: func(m *MockService) {
				m.On("Current", mock.Anything, "emp-1").Return(nil, apperr.ErrNotFound).Once()
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `"error":"not found"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/current", nil)
			req = req.WithContext(context.WithValue(req.Context(), middlewarectx.EmployerID, "emp-1"))
			w := httptest.NewRecorder()

			New(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}
