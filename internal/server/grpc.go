package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"scanguard/internal/common"
	"scanguard/internal/normalize"
	"scanguard/internal/pipeline"
)

const (
	ScannerServiceName = "scanguard.v1.Scanner"
	AnalyzeMethod      = "/" + ScannerServiceName + "/Analyze"
	DecideMethod       = "/" + ScannerServiceName + "/Decide"
)

// ScannerServer is the RPC surface. Requests and responses are
// google.protobuf.Struct values carrying the same fields as the HTTP API.
type ScannerServer interface {
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var scannerServiceDesc = grpc.ServiceDesc{
	ServiceName: ScannerServiceName,
	HandlerType: (*ScannerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: unaryHandler(AnalyzeMethod, ScannerServer.Analyze)},
		{MethodName: "Decide", Handler: unaryHandler(DecideMethod, ScannerServer.Decide)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scanguard/v1/scanner.proto",
}

func RegisterScannerServer(s grpc.ServiceRegistrar, srv ScannerServer) {
	s.RegisterService(&scannerServiceDesc, srv)
}

type unaryMethod func(ScannerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ScannerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ScannerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type scannerService struct {
	srv *Server
}

// Analyze takes channel, content, sender and policy. For the qr channel
// content is the base64 encoded image.
func (s *scannerService) Analyze(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	ch, err := common.ParseChannel(f["channel"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	content := f["content"].GetStringValue()
	policyName := f["policy"].GetStringValue()

	var rep *pipeline.Report
	if ch == common.ChannelQR {
		data, derr := base64.StdEncoding.DecodeString(content)
		if derr != nil {
			return nil, status.Error(codes.InvalidArgument, "qr content must be base64")
		}
		rep, err = s.srv.svc.AnalyzeImage(ctx, data, policyName)
	} else {
		rep, err = s.srv.svc.Analyze(ctx, pipeline.Request{
			Channel: ch,
			Content: content,
			Sender:  f["sender"].GetStringValue(),
			Policy:  policyName,
		})
	}
	if err != nil {
		if errors.Is(err, normalize.ErrInvalidContent) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.srv.logger.Error("rpc analysis failed", "error", err)
		return nil, status.Error(codes.Internal, "analysis failed")
	}
	return toStruct(rep)
}

// Decide takes risk_score, risk_level and policy.
func (s *scannerService) Decide(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	score, ok := f["risk_score"].GetKind().(*structpb.Value_NumberValue)
	level := common.RiskLevel(f["risk_level"].GetStringValue())
	if !ok || !validLevel(level) {
		return nil, status.Error(codes.InvalidArgument, "risk_score and risk_level are required")
	}
	d := s.srv.svc.Policies().Decide(int(score.NumberValue), level, f["policy"].GetStringValue())
	return toStruct(d)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
