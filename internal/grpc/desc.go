package grpc

import (
	"context"

	"github.com/psds-microservice/support-service/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "support.v1.SupportService"

type CreateTicketRequest struct {
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email,omitempty"`
	Subject   string `json:"subject"`
	Priority  string `json:"priority,omitempty"`
}

// GetTicketRequest looks a ticket up by id or, when id is zero, by session id.
type GetTicketRequest struct {
	ID        uint64 `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type ListOpenTicketsRequest struct{}

type TicketList struct {
	Tickets []model.Ticket `json:"tickets"`
}

type ListMessagesRequest struct {
	SessionID string `json:"session_id"`
}

type MessageList struct {
	Messages []model.Message `json:"messages"`
}

type AssignTicketRequest struct {
	TicketID      uint64 `json:"ticket_id"`
	SupporterID   int64  `json:"supporter_id"`
	SupporterName string `json:"supporter_name,omitempty"`
}

type ReleaseTicketRequest struct {
	TicketID uint64 `json:"ticket_id"`
	Actor    string `json:"actor,omitempty"`
}

type UpdateStatusRequest struct {
	TicketID uint64 `json:"ticket_id"`
	Status   string `json:"status"`
	Actor    string `json:"actor,omitempty"`
}

// SupportServiceServer is the server API of support.v1.SupportService.
type SupportServiceServer interface {
	CreateTicket(context.Context, *CreateTicketRequest) (*model.Ticket, error)
	ListOpenTickets(context.Context, *ListOpenTicketsRequest) (*TicketList, error)
	GetTicket(context.Context, *GetTicketRequest) (*model.Ticket, error)
	ListMessages(context.Context, *ListMessagesRequest) (*MessageList, error)
	AssignTicket(context.Context, *AssignTicketRequest) (*model.Ticket, error)
	ReleaseTicket(context.Context, *ReleaseTicketRequest) (*model.Ticket, error)
	UpdateStatus(context.Context, *UpdateStatusRequest) (*model.Ticket, error)
}

// unary строит MethodDesc без сгенерированного кода: запрос приходит как
// google.protobuf.Struct, переводится в Req и проходит через interceptor;
// ответ уходит обратно как Struct.
func unary[Req any, Resp any](name string, call func(SupportServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			wire := new(structpb.Struct)
			if err := dec(wire); err != nil {
				return nil, err
			}
			in := new(Req)
			if err := fromStruct(wire, in); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			s := srv.(SupportServiceServer)
			handle := func(ctx context.Context, req interface{}) (interface{}, error) {
				resp, err := call(s, ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				out, err := toStruct(resp)
				if err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				return out, nil
			}
			if interceptor == nil {
				return handle(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handle)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SupportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateTicket", SupportServiceServer.CreateTicket),
		unary("ListOpenTickets", SupportServiceServer.ListOpenTickets),
		unary("GetTicket", SupportServiceServer.GetTicket),
		unary("ListMessages", SupportServiceServer.ListMessages),
		unary("AssignTicket", SupportServiceServer.AssignTicket),
		unary("ReleaseTicket", SupportServiceServer.ReleaseTicket),
		unary("UpdateStatus", SupportServiceServer.UpdateStatus),
	},
	Metadata: "support/v1/support.proto",
}

func RegisterSupportServiceServer(s grpc.ServiceRegistrar, srv SupportServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls SupportService over the standard protobuf codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	req, err := toStruct(in)
	if err != nil {
		return nil, err
	}
	wire := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, wire, opts...); err != nil {
		return nil, err
	}
	out := new(Resp)
	if err := fromStruct(wire, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTicket(ctx context.Context, in *CreateTicketRequest, opts ...grpc.CallOption) (*model.Ticket, error) {
	return invoke[model.Ticket](ctx, c, "CreateTicket", in, opts)
}

func (c *Client) ListOpenTickets(ctx context.Context, in *ListOpenTicketsRequest, opts ...grpc.CallOption) (*TicketList, error) {
	return invoke[TicketList](ctx, c, "ListOpenTickets", in, opts)
}

func (c *Client) GetTicket(ctx context.Context, in *GetTicketRequest, opts ...grpc.CallOption) (*model.Ticket, error) {
	return invoke[model.Ticket](ctx, c, "GetTicket", in, opts)
}

func (c *Client) ListMessages(ctx context.Context, in *ListMessagesRequest, opts ...grpc.CallOption) (*MessageList, error) {
	return invoke[MessageList](ctx, c, "ListMessages", in, opts)
}

func (c *Client) AssignTicket(ctx context.Context, in *AssignTicketRequest, opts ...grpc.CallOption) (*model.Ticket, error) {
	return invoke[model.Ticket](ctx, c, "AssignTicket", in, opts)
}

func (c *Client) ReleaseTicket(ctx context.Context, in *ReleaseTicketRequest, opts ...grpc.CallOption) (*model.Ticket, error) {
	return invoke[model.Ticket](ctx, c, "ReleaseTicket", in, opts)
}

func (c *Client) UpdateStatus(ctx context.Context, in *UpdateStatusRequest, opts ...grpc.CallOption) (*model.Ticket, error) {
	return invoke[model.Ticket](ctx, c, "UpdateStatus", in, opts)
}
