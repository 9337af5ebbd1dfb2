package handler

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-asset-custody/internal/platform/auth"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
	"github.com/pesio-ai/be-asset-custody/internal/service"
)

// CustodyServiceName is the fully qualified gRPC service name.
const CustodyServiceName = "custody.v1.CustodyService"

// CustodyServer is the server API for CustodyService. Messages are
// google.protobuf.Struct values with the same fields as the HTTP bodies.
type CustodyServer interface {
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExternalApprove(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveTransfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTransfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterCustodyServer registers srv on s.
func RegisterCustodyServer(s grpc.ServiceRegistrar, srv CustodyServer) {
	s.RegisterService(&custodyServiceDesc, srv)
}

func unaryMethod(name string, call func(CustodyServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CustodyServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + CustodyServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CustodyServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var custodyServiceDesc = grpc.ServiceDesc{
	ServiceName: CustodyServiceName,
	HandlerType: (*CustodyServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Approve", CustodyServer.Approve),
		unaryMethod("Reject", CustodyServer.Reject),
		unaryMethod("ExternalApprove", CustodyServer.ExternalApprove),
		unaryMethod("Reset", CustodyServer.Reset),
		unaryMethod("SaveTransfer", CustodyServer.SaveTransfer),
		unaryMethod("GetTransfer", CustodyServer.GetTransfer),
	},
	Streams: []grpc.StreamDesc{},
}

// GRPCHandler implements the CustodyService gRPC interface
type GRPCHandler struct {
	approvals *service.ApprovalService
	transfers *service.TransferService
	logger    zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals *service.ApprovalService, transfers *service.TransferService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		transfers: transfers,
		logger:    logger.With().Str("handler", "grpc").Logger(),
	}
}

var _ CustodyServer = (*GRPCHandler)(nil)

// Approve approves the current step.
func (h *GRPCHandler) Approve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, body, err := h.approvalAction(ctx, req)
	if err != nil {
		return nil, err
	}
	return h.reply("Approve", body.ID)(h.approvals.Approve(ctx, body.ID, caller, body.Notes))
}

// Reject rejects the current step.
func (h *GRPCHandler) Reject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, body, err := h.approvalAction(ctx, req)
	if err != nil {
		return nil, err
	}
	return h.reply("Reject", body.ID)(h.approvals.Reject(ctx, body.ID, caller, body.Notes))
}

// ExternalApprove records an external party's approval.
func (h *GRPCHandler) ExternalApprove(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, body, err := h.approvalAction(ctx, req)
	if err != nil {
		return nil, err
	}
	return h.reply("ExternalApprove", body.ID)(h.approvals.ExternalApprove(ctx, body.ID, caller, body.ExternalName, body.ExternalTitle, body.Notes))
}

// Reset reopens a decided approval.
func (h *GRPCHandler) Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, body, err := h.approvalAction(ctx, req)
	if err != nil {
		return nil, err
	}
	return h.reply("Reset", body.ID)(h.approvals.Reset(ctx, body.ID, caller))
}

// SaveTransfer edits a transfer and reconciles it.
func (h *GRPCHandler) SaveTransfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	caller, err := auth.GetUserContext(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var body service.SaveTransferRequest
	if err := fromStruct(req, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return h.reply("SaveTransfer", body.ID)(h.transfers.Save(ctx, &body, caller))
}

// GetTransfer returns a transfer.
func (h *GRPCHandler) GetTransfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	return h.reply("GetTransfer", id)(h.transfers.Get(ctx, id))
}

func (h *GRPCHandler) approvalAction(ctx context.Context, req *structpb.Struct) (auth.UserContext, approvalActionBody, error) {
	var body approvalActionBody
	caller, err := auth.GetUserContext(ctx)
	if err != nil {
		return caller, body, mapErrorToGRPC(err)
	}
	if err := fromStruct(req, &body); err != nil {
		return caller, body, mapErrorToGRPC(err)
	}
	return caller, body, nil
}

// reply converts a service result into a Struct, logging failures.
func (h *GRPCHandler) reply(method, id string) func(any, error) (*structpb.Struct, error) {
	return func(v any, err error) (*structpb.Struct, error) {
		if err != nil {
			h.logger.Warn().Err(err).Str("method", method).Str("id", id).Msg("gRPC call failed")
			return nil, mapErrorToGRPC(err)
		}
		out, err := toStruct(v)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return out, nil
	}
}

func fromStruct(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request message")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request message")
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// mapErrorToGRPC maps application errors to gRPC status errors. The
// offending field, if any, is carried in the message.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	msg := err.Error()
	if field := errors.FieldOf(err); field != "" {
		msg = field + ": " + msg
	}
	return status.Error(errors.GRPCCode(err), msg)
}
