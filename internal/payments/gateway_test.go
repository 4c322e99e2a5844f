package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	client := NewClient("http://gateway", "key_id", "key_secret")

	valid := sign("key_secret", "order_1", "pay_1")
	assert.True(t, client.VerifySignature("order_1", "pay_1", valid))

	assert.False(t, client.VerifySignature("order_1", "pay_1", "deadbeef"))
	assert.False(t, client.VerifySignature("order_2", "pay_1", valid))
	assert.False(t, client.VerifySignature("order_1", "pay_2", valid))
	assert.False(t, client.VerifySignature("order_1", "pay_1", sign("other_secret", "order_1", "pay_1")))
	assert.False(t, client.VerifySignature("order_1", "pay_1", ""))
}

func TestCreateOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key_id", user)
		assert.Equal(t, "key_secret", pass)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 10000, req["amount"])
		assert.Equal(t, "INR", req["currency"])

		json.NewEncoder(w).Encode(Order{
			ID:       "order_1",
			Amount:   10000,
			Currency: "INR",
			Receipt:  req["receipt"].(string),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "key_id", "key_secret")
	order, err := client.CreateOrder(context.Background(), 10000, "INR", "receipt_1")
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)
	assert.EqualValues(t, 10000, order.Amount)
	assert.Equal(t, "receipt_1", order.Receipt)
}

func TestCreateOrderGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key_id", "bad_secret")
	_, err := client.CreateOrder(context.Background(), 10000, "INR", "receipt_1")
	assert.ErrorContains(t, err, "401")
}
