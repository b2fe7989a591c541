package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/mapper"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "gateway.PaymentGateway"

// PaymentGatewayServer carries JSON-shaped messages as google.protobuf.Struct,
// using the same field names as the HTTP API. The contract clients generate
// stubs from is proto/payment_gateway.proto.
type PaymentGatewayServer interface {
	Health(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CreatePayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	HandleProviderEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Refund(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Chargeback(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv PaymentGatewayServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaymentGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: unaryHandler("Health", PaymentGatewayServer.Health)},
		{MethodName: "CreatePayment", Handler: unaryHandler("CreatePayment", PaymentGatewayServer.CreatePayment)},
		{MethodName: "GetPayment", Handler: unaryHandler("GetPayment", PaymentGatewayServer.GetPayment)},
		{MethodName: "HandleProviderEvent", Handler: unaryHandler("HandleProviderEvent", PaymentGatewayServer.HandleProviderEvent)},
		{MethodName: "Refund", Handler: unaryHandler("Refund", PaymentGatewayServer.Refund)},
		{MethodName: "Chargeback", Handler: unaryHandler("Chargeback", PaymentGatewayServer.Chargeback)},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterPaymentGatewayServer(registrar grpc.ServiceRegistrar, srv PaymentGatewayServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the invoke path of a service method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PaymentGatewayServer), ctx, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, handler)
	}
}

type Server struct {
	paymentService *service.PaymentService
}

func NewServer(paymentService *service.PaymentService) *Server {
	return &Server{paymentService: paymentService}
}

type paymentIDMessage struct {
	Id     uint64 `json:"id"`
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

type providerEventMessage struct {
	Provider  string `json:"provider"`
	Signature string `json:"signature"`
	Payload   string `json:"payload"`
}

func (s *Server) Health(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encodeMessage(&types.HealthResponse{Status: "ok"})
}

func (s *Server) CreatePayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	l := loggerWithContext(ctx)

	var req types.CreatePaymentRequest
	if err := decodeMessage(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	if strings.TrimSpace(req.RequestId) == "" {
		req.RequestId = RequestIDFromContext(ctx)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		l.WithError(err).Debug("Create payment validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.CreatePayment(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrProviderUnsupported):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, service.ErrPaymentAlreadyExists):
			return nil, status.Error(codes.AlreadyExists, err.Error())
		case errors.Is(err, service.ErrGatewayCommunication):
			l.WithError(err).Warn("Create payment gateway error")
			return nil, status.Error(codes.Unavailable, "gateway communication error")
		default:
			l.WithError(err).Error("Create payment failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return encodeMessage(&types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (s *Server) GetPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var msg paymentIDMessage
	if err := decodeMessage(in, &msg); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	req := &types.GetPaymentRequest{Id: msg.Id}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.GetPayment(ctx, req.Id)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			return nil, status.Error(codes.NotFound, "payment not found")
		}
		loggerWithContext(ctx).WithError(err).Error("Get payment failed")
		return nil, status.Error(codes.Internal, "internal server error")
	}

	return encodeMessage(&types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (s *Server) HandleProviderEvent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var msg providerEventMessage
	if err := decodeMessage(in, &msg); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	req := &types.HandleProviderEventRequest{
		RequestId: RequestIDFromContext(ctx),
		Provider:  strings.ToLower(strings.TrimSpace(msg.Provider)),
		Signature: strings.TrimSpace(msg.Signature),
		Payload:   []byte(msg.Payload),
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	_, err := s.paymentService.HandleProviderEvent(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProviderUnsupported), errors.Is(err, service.ErrCallbackRejected), errors.Is(err, service.ErrInvalidRequest):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, service.ErrPaymentNotFound):
			return nil, status.Error(codes.NotFound, "payment not found")
		default:
			loggerWithContext(ctx).WithError(err).Error("Handle provider event failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return encodeMessage(&types.MessageResponse{Message: "Provider event processed"})
}

func (s *Server) Refund(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.administrativeTransition(ctx, in, entity.PaymentStatusRefund)
}

func (s *Server) Chargeback(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.administrativeTransition(ctx, in, entity.PaymentStatusChargeback)
}

func (s *Server) administrativeTransition(ctx context.Context, in *structpb.Struct, target entity.PaymentStatus) (*structpb.Struct, error) {
	var msg paymentIDMessage
	if err := decodeMessage(in, &msg); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	req := &types.AdministrativeTransitionRequest{
		Id:     msg.Id,
		Reason: strings.TrimSpace(msg.Reason),
		Actor:  strings.TrimSpace(msg.Actor),
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var (
		item *entity.Payment
		err  error
	)
	if target == entity.PaymentStatusRefund {
		item, err = s.paymentService.Refund(ctx, req)
	} else {
		item, err = s.paymentService.Chargeback(ctx, req)
	}
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			return nil, status.Error(codes.NotFound, "payment not found")
		case errors.Is(err, service.ErrInvalidTransition):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		case errors.Is(err, service.ErrInvalidRequest):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		default:
			loggerWithContext(ctx).WithError(err).Error("Administrative transition failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return encodeMessage(&types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func decodeMessage(in *structpb.Struct, out interface{}) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func encodeMessage(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}
