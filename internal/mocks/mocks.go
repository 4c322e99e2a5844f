package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"secure-chat-service/internal/payments"
)

type GatewayMock struct {
	mock.Mock
}

func (m *GatewayMock) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (payments.Order, error) {
	args := m.Called(ctx, amount, currency, receipt)
	var order payments.Order
	if val := args.Get(0); val != nil {
		order = val.(payments.Order)
	}
	return order, args.Error(1)
}

func (m *GatewayMock) VerifySignature(orderID, paymentID, signature string) bool {
	args := m.Called(orderID, paymentID, signature)
	return args.Bool(0)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
