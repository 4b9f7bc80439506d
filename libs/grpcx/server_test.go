package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func TestHealthServerWithRequestID(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, hs := NewServer(logger)
	SetServing(hs, true, "bookwell.booking")
	go func() {
		_ = srv.Serve(lis)
	}()
	defer srv.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, "req-123")

	var header metadata.MD
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "bookwell.booking"}, grpc.Header(&header))
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}
	if got := header.Get(RequestIDMetadataKey); len(got) == 0 || got[0] != "req-123" {
		t.Fatalf("expected echoed request id, got %v", got)
	}
}

func TestRequestIDFromIncomingRejectsMalformed(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "bad id"))
	if got := requestIDFromIncoming(ctx); got == "bad id" || len(got) != 36 {
		t.Fatalf("expected a generated id, got %q", got)
	}
	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-7"))
	if got := requestIDFromIncoming(ctx); got != "req-7" {
		t.Fatalf("expected req-7, got %q", got)
	}
}
