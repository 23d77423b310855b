package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/liveness-check/internal/liveness"
	"github.com/example/liveness-check/internal/logging"
	"github.com/example/liveness-check/internal/poseextractor"
)

// DetectPoseMethod is the unary RPC exposed by the pose detector service. It
// exchanges google.protobuf.Struct messages:
//
//	request:  {"subject": string, "frame": base64 string}
//	response: {"face_detected": bool, "horizontal": number, "vertical": number}
const DetectPoseMethod = "/posedetector.PoseDetector/DetectPose"

// DialPoseExtractor returns a ready-to-use gRPC client for the pose detector.
func DialPoseExtractor(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (poseextractor.Extractor, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_pose_extractor", "", err)
		logger.Error("failed to dial pose extractor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &grpcPoseExtractor{conn: conn, logger: logger.Named("pose_extractor")}, conn, nil
}

type grpcPoseExtractor struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcPoseExtractor) Extract(ctx context.Context, subject string, frame []byte) (*liveness.PoseSignal, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"subject": subject,
		"frame":   base64.StdEncoding.EncodeToString(frame),
	})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.build_request", "", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, DetectPoseMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect_pose", "", err)
		g.logger.Error("pose extractor call failed", zap.Error(wrapped), zap.String("subject", subject))
		return nil, wrapped
	}

	fields := resp.GetFields()
	if !fields["face_detected"].GetBoolValue() {
		return nil, nil
	}
	h, okH := fields["horizontal"]
	v, okV := fields["vertical"]
	if !okH || !okV {
		return nil, logging.NewOperationError("grpcclient.detect_pose", "", fmt.Errorf("response missing pose coordinates"))
	}
	return &liveness.PoseSignal{
		Horizontal: h.GetNumberValue(),
		Vertical:   v.GetNumberValue(),
	}, nil
}
