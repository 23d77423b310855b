package poseextractor

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/example/liveness-check/internal/liveness"
)

// ErrEmptyFrame is returned by DecodeFrame for a blank payload.
var ErrEmptyFrame = errors.New("poseextractor: empty frame")

// Extractor turns an encoded video frame into a pose signal. A nil pose with
// a nil error means no face was found in the frame.
type Extractor interface {
	Extract(ctx context.Context, subject string, frame []byte) (*liveness.PoseSignal, error)
}

// DecodeFrame decodes a base64 frame, accepting an optional data URL prefix
// such as "data:image/jpeg;base64,".
func DecodeFrame(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	if payload == "" {
		return nil, ErrEmptyFrame
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	return data, nil
}
