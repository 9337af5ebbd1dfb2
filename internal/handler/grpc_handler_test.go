package handler

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-asset-custody/internal/actor"
	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/auth"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
	"github.com/pesio-ai/be-asset-custody/internal/platform/logger"
	"github.com/pesio-ai/be-asset-custody/internal/service"
)

func dialCustody(t *testing.T, ts *testServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		LoggingInterceptor(logger.Nop().Logger),
		AuthInterceptor(ts.verifier),
	))
	RegisterCustodyServer(srv, NewGRPCHandler(ts.approvals, ts.transfers, logger.Nop().Logger))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (ts *testServer) grpcCtx(t *testing.T, role string) context.Context {
	t.Helper()
	token, err := ts.verifier.Sign(auth.UserContext{UserID: "u-" + role, RoleCode: role})
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+CustodyServiceName+"/"+method, req, out)
	return out, err
}

func TestCustodyServiceOverGRPC(t *testing.T) {
	ts := newTestServer(t)
	conn := dialCustody(t, ts)

	tr, err := ts.transfers.Create(context.Background(), &service.CreateTransferRequest{
		CurrentLocation:   service.SiteInput{BuildingID: "b-src", BuildingRoomID: "r-src", UnitOrDepartmentID: "u-src"},
		ReceivingLocation: service.SiteInput{BuildingID: "b-dst", BuildingRoomID: "r-dst", UnitOrDepartmentID: "u-dst"},
		ScheduledDate:     "2026-05-01",
		Lines:             []service.TransferLineInput{{AssetID: strPtr("asset-1"), FromSubAreaID: strPtr("sa-src"), ToSubAreaID: strPtr("sa-dst")}},
	}, auth.UserContext{UserID: "u-staff", RoleCode: actor.RolePMOStaff})
	require.NoError(t, err)

	_, err = invoke(context.Background(), conn, "GetTransfer", map[string]any{"id": tr.ID})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	out, err := invoke(ts.grpcCtx(t, actor.RoleUser), conn, "GetTransfer", map[string]any{"id": tr.ID})
	require.NoError(t, err)
	assert.Equal(t, string(domain.TransferPendingReview), out.Fields["status"].GetStringValue())

	_, err = invoke(ts.grpcCtx(t, actor.RoleUser), conn, "Approve", map[string]any{"id": tr.ApprovalID})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = invoke(ts.grpcCtx(t, actor.RoleVPAdmin), conn, "Reject", map[string]any{"id": tr.ApprovalID})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.True(t, strings.HasPrefix(status.Convert(err).Message(), "notes: "))

	out, err = invoke(ts.grpcCtx(t, actor.RolePMOHead), conn, "Approve", map[string]any{"id": tr.ApprovalID, "notes": "seen"})
	require.NoError(t, err)
	current := out.Fields["current_step"].GetStructValue()
	require.NotNil(t, current)
	assert.Equal(t, string(domain.StepApprovedBy), current.Fields["code"].GetStringValue())

	out, err = invoke(ts.grpcCtx(t, actor.RolePMOStaff), conn, "SaveTransfer", map[string]any{"id": tr.ID, "remarks": "dock 3"})
	require.NoError(t, err)
	assert.Equal(t, "dock 3", out.Fields["remarks"].GetStringValue())

	_, err = invoke(ts.grpcCtx(t, actor.RolePMOStaff), conn, "SaveTransfer", map[string]any{"id": tr.ID, "status": "completed"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	conn := dialCustody(t, ts)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestMapErrorToGRPC(t *testing.T) {
	assert.NoError(t, mapErrorToGRPC(nil))

	err := mapErrorToGRPC(&domain.InvalidLineItemError{Index: 2, Field: "to_sub_area_id", Value: "sa-x", Problem: "does not exist"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.True(t, strings.HasPrefix(status.Convert(err).Message(), "lines[2].to_sub_area_id: "))

	assert.Equal(t, codes.FailedPrecondition, status.Code(mapErrorToGRPC(&domain.NoPendingStepError{FormApprovalID: "fa"})))
	assert.Equal(t, codes.NotFound, status.Code(mapErrorToGRPC(errors.NotFound("transfer", "t"))))

	already := status.Error(codes.Aborted, "busy")
	assert.Equal(t, already, mapErrorToGRPC(already))
}

func strPtr(s string) *string { return &s }
