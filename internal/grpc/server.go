package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/psds-microservice/support-service/internal/auth"
	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/logging"
	"github.com/psds-microservice/support-service/internal/model"
	"github.com/psds-microservice/support-service/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// MessageLister: чтение журнала сообщений.
type MessageLister interface {
	List(ctx context.Context, sessionID string) ([]model.Message, error)
}

// SessionCoordinator: операции, которые меняют тикет и должны дойти до
// живых соединений сессии (реализует gateway.Gateway).
type SessionCoordinator interface {
	Claim(ctx context.Context, ticketID uint64, supporterID int64, name string) (*model.Ticket, error)
	Release(ctx context.Context, ticketID uint64, actor string) (*model.Ticket, error)
	ChangeStatus(ctx context.Context, ticketID uint64, next model.TicketStatus, actor string) (*model.Ticket, error)
}

// Deps: зависимости gRPC-сервера (D: зависимость от абстракций).
type Deps struct {
	Tickets  service.TicketServicer
	Messages MessageLister
	Sessions SessionCoordinator
	Verifier *auth.Verifier
	Log      *slog.Logger
}

// Server implements SupportServiceServer.
type Server struct {
	Deps
}

func NewServer(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	return &Server{Deps: deps}
}

// NewGRPCServer returns a grpc.Server with the service registered and
// request logging installed.
func NewGRPCServer(impl *Server) *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(impl.Log)))
	RegisterSupportServiceServer(srv, impl)
	return srv
}

func loggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		attrs := []any{
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)),
		}
		if status.Code(err) == codes.Internal {
			log.Error("grpc request", append(attrs, logging.Err(err))...)
		} else {
			log.Debug("grpc request", attrs...)
		}
		return resp, err
	}
}

// getMetadata returns the first value for key from incoming gRPC metadata (case-insensitive key).
func getMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(strings.ToLower(key)); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// mapError переводит доменные ошибки в gRPC-статусы.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, errs.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errs.ErrAlreadyAssigned):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, errs.ErrInvalidTransition), errors.Is(err, errs.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// verifySupporter требует токен саппортера из metadata "authorization",
// если проверка токенов включена. Без проверки возвращает nil claims.
func (s *Server) verifySupporter(ctx context.Context) (*auth.Claims, error) {
	if !s.Verifier.Enabled() {
		return nil, nil
	}
	raw := strings.TrimPrefix(getMetadata(ctx, "authorization"), "Bearer ")
	if raw == "" {
		return nil, status.Error(codes.Unauthenticated, "supporter token required")
	}
	claims, err := s.Verifier.Verify(raw)
	if err != nil {
		return nil, mapError(err)
	}
	return claims, nil
}

// authorizeSupporter дополнительно сверяет supporter_id запроса с токеном.
func (s *Server) authorizeSupporter(ctx context.Context, supporterID int64) error {
	claims, err := s.verifySupporter(ctx)
	if err != nil || claims == nil {
		return err
	}
	if id, _ := claims.SupporterID(); id != supporterID {
		return status.Error(codes.PermissionDenied, "token does not match supporter_id")
	}
	return nil
}

// actorName: имя для системного сообщения, по умолчанию из токена.
func actorName(actor string, claims *auth.Claims) string {
	if actor = strings.TrimSpace(actor); actor == "" && claims != nil {
		return claims.Name
	}
	return actor
}

func (s *Server) CreateTicket(ctx context.Context, req *CreateTicketRequest) (*model.Ticket, error) {
	t, err := s.Tickets.Create(ctx, service.CreateTicketInput{
		UserName:  req.UserName,
		UserEmail: req.UserEmail,
		Subject:   req.Subject,
		Priority:  req.Priority,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

func (s *Server) ListOpenTickets(ctx context.Context, _ *ListOpenTicketsRequest) (*TicketList, error) {
	if _, err := s.verifySupporter(ctx); err != nil {
		return nil, err
	}
	items, err := s.Tickets.ListOpen(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &TicketList{Tickets: items}, nil
}

func (s *Server) GetTicket(ctx context.Context, req *GetTicketRequest) (*model.Ticket, error) {
	var (
		t   *model.Ticket
		err error
	)
	switch {
	case req.ID > 0:
		// по id тикеты перебираются, session_id отдаём только саппортеру
		if _, err := s.verifySupporter(ctx); err != nil {
			return nil, err
		}
		t, err = s.Tickets.GetByID(ctx, req.ID)
	case req.SessionID != "":
		t, err = s.Tickets.GetBySession(ctx, req.SessionID)
	default:
		return nil, status.Error(codes.InvalidArgument, "id or session_id is required")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

func (s *Server) ListMessages(ctx context.Context, req *ListMessagesRequest) (*MessageList, error) {
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	msgs, err := s.Messages.List(ctx, req.SessionID)
	if err != nil {
		return nil, mapError(err)
	}
	return &MessageList{Messages: msgs}, nil
}

func (s *Server) AssignTicket(ctx context.Context, req *AssignTicketRequest) (*model.Ticket, error) {
	if req.TicketID == 0 || req.SupporterID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "ticket_id and supporter_id are required")
	}
	if err := s.authorizeSupporter(ctx, req.SupporterID); err != nil {
		return nil, err
	}
	t, err := s.Sessions.Claim(ctx, req.TicketID, req.SupporterID, req.SupporterName)
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

func (s *Server) ReleaseTicket(ctx context.Context, req *ReleaseTicketRequest) (*model.Ticket, error) {
	if req.TicketID == 0 {
		return nil, status.Error(codes.InvalidArgument, "ticket_id is required")
	}
	claims, err := s.verifySupporter(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.Sessions.Release(ctx, req.TicketID, actorName(req.Actor, claims))
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

func (s *Server) UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*model.Ticket, error) {
	next, ok := model.ParseTicketStatus(req.Status)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "invalid status")
	}
	claims, err := s.verifySupporter(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.Sessions.ChangeStatus(ctx, req.TicketID, next, actorName(req.Actor, claims))
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}
