package grpcclient

import (
	"context"
	"encoding/base64"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startDetector(t *testing.T, respond func(req *structpb.Struct) *structpb.Struct) *bufconn.Listener {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: "posedetector.PoseDetector",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "DetectPose",
			Handler: func(_ interface{}, _ context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return respond(in), nil
			},
		}},
	}, struct{}{})

	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return lis
}

func dialTest(t *testing.T, lis *bufconn.Listener) *grpcPoseExtractor {
	t.Helper()
	dialer := grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
		return lis.Dial()
	})
	extractor, conn, err := DialPoseExtractor(context.Background(), "bufnet", zap.NewNop(), dialer)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return extractor.(*grpcPoseExtractor)
}

func TestExtractReturnsPose(t *testing.T) {
	var gotFrame string
	lis := startDetector(t, func(req *structpb.Struct) *structpb.Struct {
		gotFrame = req.GetFields()["frame"].GetStringValue()
		resp, _ := structpb.NewStruct(map[string]interface{}{
			"face_detected": true,
			"horizontal":    -0.4,
			"vertical":      0.05,
		})
		return resp
	})
	extractor := dialTest(t, lis)

	pose, err := extractor.Extract(context.Background(), "user-1", []byte("jpeg"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if pose == nil || pose.Horizontal != -0.4 || pose.Vertical != 0.05 {
		t.Fatalf("unexpected pose: %+v", pose)
	}
	if gotFrame != base64.StdEncoding.EncodeToString([]byte("jpeg")) {
		t.Fatalf("frame not forwarded, got %q", gotFrame)
	}
}

func TestExtractWithoutFaceReturnsNil(t *testing.T) {
	lis := startDetector(t, func(*structpb.Struct) *structpb.Struct {
		resp, _ := structpb.NewStruct(map[string]interface{}{"face_detected": false})
		return resp
	})
	extractor := dialTest(t, lis)

	pose, err := extractor.Extract(context.Background(), "user-1", []byte("jpeg"))
	if err != nil || pose != nil {
		t.Fatalf("expected no pose and no error, got %+v (%v)", pose, err)
	}
}
