package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newTestClient(t *testing.T, env *testEnv) *FulfillmentClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer()
	RegisterFulfillmentServer(srv, NewGRPCHandler(env.orders, env.notifications, testMaxQuantity))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewFulfillmentClient(conn)
}

func TestGRPC_PlaceOrderAndLookup(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "Apex", 3, 0)
	client := newTestClient(t, env)
	ctx := context.Background()

	placed, err := client.PlaceOrder(ctx, &PlaceOrderRPCRequest{ProductID: 1, Quantity: "2", TransactionID: "rpc-1", Actor: "rpc"})
	require.NoError(t, err)
	assert.True(t, placed.Status)
	assert.Len(t, placed.Lines, 2)
	assert.Equal(t, int64(3000), placed.TotalPrice)

	found, err := client.FindByTransaction(ctx, &FindByTransactionRPCRequest{TransactionID: "rpc-1"})
	require.NoError(t, err)
	assert.Equal(t, placed.ID, found.ID)

	missing, err := client.FindByTransaction(ctx, &FindByTransactionRPCRequest{TransactionID: "rpc-none"})
	require.NoError(t, err)
	assert.False(t, missing.Status)
	assert.Equal(t, msgTransactionNotFound, missing.Message)
}

func TestGRPC_PlaceOrderErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "Apex", 1, 0)
	client := newTestClient(t, env)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      *PlaceOrderRPCRequest
		wantCode codes.Code
	}{
		{"invalid quantity", &PlaceOrderRPCRequest{ProductID: 1, Quantity: "0", TransactionID: "q"}, codes.InvalidArgument},
		{"fractional quantity", &PlaceOrderRPCRequest{ProductID: 1, Quantity: "1.5", TransactionID: "tx-f"}, codes.InvalidArgument},
		{"over cap", &PlaceOrderRPCRequest{ProductID: 1, Quantity: "101", TransactionID: "c"}, codes.InvalidArgument},
		{"unknown product", &PlaceOrderRPCRequest{ProductID: 7, Quantity: "1", TransactionID: "p"}, codes.NotFound},
		{"not enough keys", &PlaceOrderRPCRequest{ProductID: 1, Quantity: "2", TransactionID: "s"}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.PlaceOrder(ctx, tt.req)
			require.Error(t, err)
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, st.Code())
			assert.Contains(t, st.Message(), "transaction "+tt.req.TransactionID)
			assert.NotContains(t, st.Message(), "Go struct")
		})
	}
}

func TestGRPC_MarkNotificationRead(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "Apex", 2, 1)
	client := newTestClient(t, env)
	ctx := context.Background()

	_, err := client.PlaceOrder(ctx, &PlaceOrderRPCRequest{ProductID: 1, Quantity: "1", TransactionID: "n-1"})
	require.NoError(t, err)

	unread, err := env.notifications.ListUnread(ctx)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	ack, err := client.MarkNotificationRead(ctx, &MarkNotificationReadRPCRequest{NotificationID: unread[0].ID, Actor: "ops"})
	require.NoError(t, err)
	assert.True(t, ack.Status)

	_, err = client.MarkNotificationRead(ctx, &MarkNotificationReadRPCRequest{NotificationID: 404})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_MalformedRequest(t *testing.T) {
	client := newTestClient(t, newTestEnv(t))

	raw := map[string]any{"product_id": "one", "quantity": 1, "transaction_id": "tx-raw"}
	err := client.cc.Invoke(context.Background(), methodPlaceOrder, raw, new(OrderView), grpc.CallContentSubtype(JSONCodecName))

	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
	assert.Equal(t, msgInvalidRequest, st.Message())
}
