// Package health exposes ring membership through the standard gRPC health
// service. Each node is a service named after the node, SERVING while it is
// on the ring. The overall service ("") is SERVING while any node is.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Registry mirrors ring membership into a gRPC health server.
type Registry struct {
	server *health.Server

	mu      sync.Mutex
	members map[string]bool
}

// NewRegistry creates a registry with no members. The overall service starts
// NOT_SERVING until a member joins.
func NewRegistry() *Registry {
	r := &Registry{
		server:  health.NewServer(),
		members: make(map[string]bool),
	}
	r.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// SetMember records whether name is on the ring.
func (r *Registry) SetMember(name string, inRing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[name] = inRing
	r.server.SetServingStatus(name, servingStatus(inRing))

	serving := false
	for _, in := range r.members {
		if in {
			serving = true
			break
		}
	}
	r.server.SetServingStatus("", servingStatus(serving))
}

// Status returns the serving status of name, or of the overall service when
// name is empty.
func (r *Registry) Status(ctx context.Context, name string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := r.server.Check(ctx, &healthpb.HealthCheckRequest{Service: name})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %q: %w", name, err)
	}
	return resp.GetStatus(), nil
}

// Register adds the health service to s.
func (r *Registry) Register(s grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(s, r.server)
}

// MarshalStatus renders the current statuses as JSON:
// {"serving": true, "members": {"Database-1": "SERVING", ...}}
func (r *Registry) MarshalStatus(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)

	members := make(map[string]interface{}, len(names))
	for _, name := range names {
		status, err := r.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		members[name] = status.String()
	}

	overall, err := r.Status(ctx, "")
	if err != nil {
		return nil, err
	}

	doc, err := structpb.NewStruct(map[string]interface{}{
		"serving": overall == healthpb.HealthCheckResponse_SERVING,
		"members": members,
	})
	if err != nil {
		return nil, fmt.Errorf("build status document: %w", err)
	}
	return protojson.Marshal(doc)
}

// Shutdown sets every service to NOT_SERVING and ignores later updates.
func (r *Registry) Shutdown() {
	r.server.Shutdown()
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
