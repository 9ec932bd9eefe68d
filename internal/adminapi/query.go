package adminapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ruvnet/swimring/internal/cluster"
)

// ListMembersRequest is the (empty) request for the ListMembers RPC.
type ListMembersRequest struct{}

// ListMembersResponse carries a snapshot of every known member.
type ListMembersResponse struct {
	Members []memberView
}

type queryServer interface {
	ListMembers(context.Context, *ListMembersRequest) (*ListMembersResponse, error)
}

// queryService implements queryServer over a Registry.
type queryService struct {
	registry *cluster.Registry
}

func (q *queryService) ListMembers(_ context.Context, _ *ListMembersRequest) (*ListMembersResponse, error) {
	peers := q.registry.GetStatus(cluster.ALL)
	members := make([]memberView, 0, len(peers)+1)
	members = append(members, toMemberView(q.registry.Local()))
	members = append(members, memberViews(peers)...)
	return &ListMembersResponse{Members: members}, nil
}

// memberViews maps a slice of members to their wire views.
func memberViews(members []cluster.Member) []memberView {
	views := make([]memberView, 0, len(members))
	for _, m := range members {
		views = append(views, toMemberView(m))
	}
	return views
}

func _Query_ListMembers_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListMembersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(queryServer).ListMembers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/swimring.admin.v1.Query/ListMembers"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(queryServer).ListMembers(ctx, req.(*ListMembersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// queryServiceDesc describes the hand-rolled Query service to grpc-go
// without any generated .pb.go stub.
var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: "swimring.admin.v1.Query",
	HandlerType: (*queryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListMembers",
			Handler:    _Query_ListMembers_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/adminapi/query.go",
}
