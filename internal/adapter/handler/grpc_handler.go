package handler

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/core/service"
)

const (
	fulfillmentServiceName = "keyshop.v1.Fulfillment"

	methodPlaceOrder           = "/" + fulfillmentServiceName + "/PlaceOrder"
	methodFindByTransaction    = "/" + fulfillmentServiceName + "/FindByTransaction"
	methodMarkNotificationRead = "/" + fulfillmentServiceName + "/MarkNotificationRead"
)

// JSONCodecName is the content subtype that clients select with grpc.CallContentSubtype.
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type PlaceOrderRPCRequest struct {
	ProductID     int64       `json:"product_id"`
	Quantity      json.Number `json:"quantity"`
	TransactionID string      `json:"transaction_id"`
	Actor         string      `json:"actor"`
}

type FindByTransactionRPCRequest struct {
	TransactionID string `json:"transaction_id"`
}

type MarkNotificationReadRPCRequest struct {
	NotificationID int64  `json:"notification_id"`
	Actor          string `json:"actor"`
}

// FulfillmentServer is the gRPC surface of the fulfillment engine.
type FulfillmentServer interface {
	PlaceOrder(context.Context, *PlaceOrderRPCRequest) (*OrderView, error)
	FindByTransaction(context.Context, *FindByTransactionRPCRequest) (*OrderView, error)
	MarkNotificationRead(context.Context, *MarkNotificationReadRPCRequest) (*Envelope, error)
}

type GRPCHandler struct {
	orders        *service.OrderService
	notifications *service.NotificationService
	maxQuantity   int
}

func NewGRPCHandler(orders *service.OrderService, notifications *service.NotificationService, maxQuantity int) *GRPCHandler {
	return &GRPCHandler{orders: orders, notifications: notifications, maxQuantity: maxQuantity}
}

var _ FulfillmentServer = (*GRPCHandler)(nil)

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *PlaceOrderRPCRequest) (*OrderView, error) {
	quantity, err := parseQuantity(req.Quantity, h.maxQuantity)
	if err != nil {
		return nil, rpcError(domain.WithTransaction(req.TransactionID, err))
	}
	order, err := h.orders.PlaceOrder(ctx, service.PlaceOrderRequest{
		ProductID:     req.ProductID,
		Quantity:      quantity,
		TransactionID: req.TransactionID,
		Actor:         req.Actor,
	})
	if err != nil {
		return nil, rpcError(err)
	}
	view := presentOrder(*order)
	return &view, nil
}

// FindByTransaction reports a miss in the reply body, not as an RPC error.
func (h *GRPCHandler) FindByTransaction(ctx context.Context, req *FindByTransactionRPCRequest) (*OrderView, error) {
	order, err := h.orders.FindByTransaction(ctx, req.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return &OrderView{Message: msgTransactionNotFound, TransactionID: req.TransactionID}, nil
		}
		return nil, rpcError(err)
	}
	view := presentOrder(*order)
	return &view, nil
}

func (h *GRPCHandler) MarkNotificationRead(ctx context.Context, req *MarkNotificationReadRPCRequest) (*Envelope, error) {
	if err := h.notifications.MarkRead(ctx, req.NotificationID, req.Actor); err != nil {
		return nil, rpcError(err)
	}
	return &Envelope{Status: true, Message: msgNotificationRead}, nil
}

func rpcError(err error) error {
	mapped := mapError(err)
	msg := mapped.message
	if txID, ok := domain.TransactionIDOf(err); ok && txID != "" {
		msg += " (transaction " + txID + ")"
	}
	return status.Error(mapped.grpcCode, msg)
}

func RegisterFulfillmentServer(s grpc.ServiceRegistrar, srv FulfillmentServer) {
	s.RegisterService(&fulfillmentServiceDesc, srv)
}

var fulfillmentServiceDesc = grpc.ServiceDesc{
	ServiceName: fulfillmentServiceName,
	HandlerType: (*FulfillmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: placeOrderHandler},
		{MethodName: "FindByTransaction", Handler: findByTransactionHandler},
		{MethodName: "MarkNotificationRead", Handler: markNotificationReadHandler},
	},
	Metadata: "keyshop/v1/fulfillment",
}

func placeOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PlaceOrderRPCRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, msgInvalidRequest)
	}
	if interceptor == nil {
		return srv.(FulfillmentServer).PlaceOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPlaceOrder}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FulfillmentServer).PlaceOrder(ctx, req.(*PlaceOrderRPCRequest))
	})
}

func findByTransactionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FindByTransactionRPCRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, msgInvalidRequest)
	}
	if interceptor == nil {
		return srv.(FulfillmentServer).FindByTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodFindByTransaction}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FulfillmentServer).FindByTransaction(ctx, req.(*FindByTransactionRPCRequest))
	})
}

func markNotificationReadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(MarkNotificationReadRPCRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, msgInvalidRequest)
	}
	if interceptor == nil {
		return srv.(FulfillmentServer).MarkNotificationRead(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodMarkNotificationRead}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FulfillmentServer).MarkNotificationRead(ctx, req.(*MarkNotificationReadRPCRequest))
	})
}

// FulfillmentClient calls the service over a connection that negotiates the JSON codec.
type FulfillmentClient struct {
	cc grpc.ClientConnInterface
}

func NewFulfillmentClient(cc grpc.ClientConnInterface) *FulfillmentClient {
	return &FulfillmentClient{cc: cc}
}

func (c *FulfillmentClient) PlaceOrder(ctx context.Context, in *PlaceOrderRPCRequest, opts ...grpc.CallOption) (*OrderView, error) {
	out := new(OrderView)
	if err := c.cc.Invoke(ctx, methodPlaceOrder, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FulfillmentClient) FindByTransaction(ctx context.Context, in *FindByTransactionRPCRequest, opts ...grpc.CallOption) (*OrderView, error) {
	out := new(OrderView)
	if err := c.cc.Invoke(ctx, methodFindByTransaction, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FulfillmentClient) MarkNotificationRead(ctx context.Context, in *MarkNotificationReadRPCRequest, opts ...grpc.CallOption) (*Envelope, error) {
	out := new(Envelope)
	if err := c.cc.Invoke(ctx, methodMarkNotificationRead, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
}
