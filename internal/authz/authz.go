package authz

import (
	"context"
	"fmt"
	"time"

	authzedpb "github.com/authzed/authzed-go/proto/authzed/api/v1"
	"github.com/authzed/authzed-go/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Authorizer answers whether an operator may perform a device-management
// capability for the campus.
type Authorizer interface {
	HasCapability(ctx context.Context, operatorID, capability string) (bool, error)
}

// AllowAll grants every capability. Used in dev mode and in tests.
type AllowAll struct{}

func (AllowAll) HasCapability(context.Context, string, string) (bool, error) {
	return true, nil
}

// SpiceDBAuthorizer checks capabilities against a SpiceDB schema where
// operators relate to the campus object.
type SpiceDBAuthorizer struct {
	client *authzed.Client
}

func NewSpiceDBAuthorizer(addr, token string) (*SpiceDBAuthorizer, error) {
	client, err := authzed.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(tokenAuth{token: token}),
	)
	if err != nil {
		return nil, fmt.Errorf("create authzed client: %w", err)
	}
	return &SpiceDBAuthorizer{client: client}, nil
}

func (a *SpiceDBAuthorizer) HasCapability(ctx context.Context, operatorID, capability string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := a.client.CheckPermission(ctx, &authzedpb.CheckPermissionRequest{
		Resource: &authzedpb.ObjectReference{
			ObjectType: "campus",
			ObjectId:   "main",
		},
		Permission: capability,
		Subject: &authzedpb.SubjectReference{
			Object: &authzedpb.ObjectReference{
				ObjectType: "operator",
				ObjectId:   operatorID,
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return resp.Permissionship == authzedpb.CheckPermissionResponse_PERMISSIONSHIP_HAS_PERMISSION, nil
}

// tokenAuth implements grpc credentials.PerRPCCredentials.
type tokenAuth struct {
	token string
}

func (t tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + t.token}, nil
}

func (t tokenAuth) RequireTransportSecurity() bool {
	return false
}
