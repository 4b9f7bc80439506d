package grpcx

import (
	"context"

	"github.com/md-rashed-zaman/bookwell/libs/httpx"
	"google.golang.org/grpc/metadata"
)

// RequestIDMetadataKey carries the request id over gRPC metadata. It shares
// the context slot with httpx so loggers read one value on either transport.
const RequestIDMetadataKey = "x-request-id"

func RequestIDFromContext(ctx context.Context) string {
	return httpx.RequestIDFromContext(ctx)
}

func requestIDFromIncoming(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return httpx.NewRequestID()
	}
	if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 && httpx.ValidRequestID(vals[0]) {
		return vals[0]
	}
	return httpx.NewRequestID()
}
