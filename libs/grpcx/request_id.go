package grpcx

import (
	"context"

	"github.com/md-rashed-zaman/apptgrid/libs/httpx"
	"google.golang.org/grpc/metadata"
)

type ctxKey int

const ctxKeyRequestID ctxKey = iota

// RequestIDMetadataKey carries the request id in gRPC metadata. It matches httpx.RequestIDHeader.
const RequestIDMetadataKey = "x-request-id"

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// incomingRequestID applies the HTTP id rules to metadata and mints a fresh id when they fail.
func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 && httpx.ValidRequestID(vals[0]) {
			return vals[0]
		}
	}
	return httpx.NewRequestID()
}

// outgoingRequestID prefers the id minted by the HTTP middleware over one carried from gRPC.
func outgoingRequestID(ctx context.Context) string {
	if id := httpx.RequestIDFromContext(ctx); id != "" {
		return id
	}
	return RequestIDFromContext(ctx)
}
