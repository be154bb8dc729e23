package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/psds-microservice/support-service/internal/auth"
	"github.com/psds-microservice/support-service/internal/clock"
	"github.com/psds-microservice/support-service/internal/config"
	"github.com/psds-microservice/support-service/internal/database"
	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/events"
	"github.com/psds-microservice/support-service/internal/gateway"
	grpcserver "github.com/psds-microservice/support-service/internal/grpc"
	"github.com/psds-microservice/support-service/internal/handler"
	"github.com/psds-microservice/support-service/internal/kafka"
	"github.com/psds-microservice/support-service/internal/logging"
	"github.com/psds-microservice/support-service/internal/presence"
	"github.com/psds-microservice/support-service/internal/redisstream"
	"github.com/psds-microservice/support-service/internal/router"
	"github.com/psds-microservice/support-service/internal/searchindex"
	"github.com/psds-microservice/support-service/internal/service"
	"github.com/psds-microservice/support-service/internal/session"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"gorm.io/gorm"
)

// publishTimeout ограничивает одну доставку события во внешний приёмник.
const publishTimeout = 5 * time.Second

// API приложение: HTTP + WebSocket + gRPC серверы (режим api).
type API struct {
	cfg *config.Config
	log *slog.Logger

	db       *gorm.DB
	rdb      *redis.Client
	producer *kafka.Producer
	// sinks: асинхронные внешние приёмники, дренируются до закрытия клиентов.
	sinks []*events.AsyncPublisher

	assign   *service.AssignmentCoordinator
	presence *presence.Coordinator
	gw       *gateway.Gateway

	httpSrv *http.Server
	grpcSrv *grpc.Server
	lis     net.Listener

	// baseCtx отменяется перед остановкой HTTP, чтобы SSE-потоки завершились.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewAPI создаёт приложение для режима api.
func NewAPI(ctx context.Context, cfg *config.Config, log *slog.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	if cfg.DB.Driver == config.DriverPostgres {
		if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	a := &API{cfg: cfg, log: log, db: db}

	feed := service.NewFeed()
	publishers := events.Multi{feed}
	addSink := func(p events.Publisher) {
		sink := events.Async(p, publishTimeout, log)
		a.sinks = append(a.sinks, sink)
		publishers = append(publishers, sink)
	}

	a.producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	if a.producer.Enabled() {
		addSink(a.producer)
	}
	if cfg.RedisURL != "" {
		a.rdb, err = redisstream.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		addSink(redisstream.NewPublisher(a.rdb, cfg.RedisStream, log))
	}
	if search := searchindex.NewClient(cfg.SearchServiceURL, log); search.Enabled() {
		addSink(search)
	}

	clk := clock.Real()
	tickets := service.NewTicketService(db, clk, publishers)
	messages := service.NewMessageLog(tickets)
	a.assign = service.NewAssignmentCoordinator(tickets)
	a.presence = presence.New(clk, cfg.Session.TypingTimeout, cfg.Session.TypingDebounce)
	a.gw = gateway.New(gateway.Deps{
		Tickets:  tickets,
		Messages: messages,
		Assign:   a.assign,
		Registry: session.NewRegistry(),
		Presence: a.presence,
	}, gateway.Config{
		RelayTimeout:      cfg.Session.RelayTimeout,
		SendQueueSize:     cfg.Session.SendQueueSize,
		MaxProtocolErrors: cfg.Session.MaxProtocolErrors,
		AllowedOrigins:    cfg.AllowedOrigins,
	}, log)
	verifier := auth.NewVerifier(cfg.SupporterJWTSecret)

	grpcAddr := cfg.GRPCAddr()
	a.lis, err = net.Listen("tcp", grpcAddr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w (порт занят, остановите другой процесс или задайте GRPC_PORT в .env)", grpcAddr, err)
	}
	a.grpcSrv = grpcserver.NewGRPCServer(grpcserver.NewServer(grpcserver.Deps{
		Tickets:  tickets,
		Messages: messages,
		Sessions: a.gw,
		Verifier: verifier,
		Log:      log,
	}))

	mux := router.New(router.Deps{
		Tickets:  handler.NewTicketHandler(tickets, a.gw),
		Sessions: handler.NewSessionHandler(tickets, messages, a.gw),
		Stream:   handler.NewStreamHandler(tickets, feed, 0),
		Verifier: verifier,
		Ready:    func() error { return database.Ping(db) },
		Active:   a.gw,
		Origins:  cfg.AllowedOrigins,
		Log:      log,
	})

	a.baseCtx, a.cancelBase = context.WithCancel(context.Background())
	a.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// WriteTimeout не задаём: SSE и websocket живут дольше любого таймаута,
		// дедлайны записи websocket ставит сам.
		BaseContext: func(net.Listener) context.Context { return a.baseCtx },
	}
	return a, nil
}

// Run запускает HTTP и gRPC серверы, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening",
		slog.String("addr", a.httpSrv.Addr),
		slog.String("swagger", base+"/swagger"),
		slog.String("api", base+"/api/v1/"),
		slog.String("ws", "ws://"+host+":"+a.cfg.HTTPPort+"/ws/support/"),
	)
	a.log.Info("gRPC server listening", slog.String("addr", a.lis.Addr().String()), slog.String("service", grpcserver.ServiceName))

	errCh := make(chan error, 2)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		if err := a.grpcSrv.Serve(a.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.runSweepers(sweepCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.log.Error("server failed", logging.Err(runErr))
	}
	stopSweep()
	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *API) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errList []error
	// сначала живые соединения: клиенты получают close-фрейм shutdown
	if err := a.gw.Shutdown(ctx); err != nil {
		errList = append(errList, fmt.Errorf("gateway shutdown: %w", err))
	}
	a.cancelBase()
	if err := a.httpSrv.Shutdown(ctx); err != nil {
		errList = append(errList, fmt.Errorf("http shutdown: %w", err))
	}
	a.grpcSrv.GracefulStop()
	// новых событий больше нет: дожидаемся доставок в полёте
	for _, sink := range a.sinks {
		if err := sink.Drain(ctx); err != nil {
			errList = append(errList, fmt.Errorf("drain event sinks: %w", err))
			break
		}
	}
	if err := a.producer.Close(); err != nil {
		errList = append(errList, fmt.Errorf("kafka close: %w", err))
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errList = append(errList, fmt.Errorf("redis close: %w", err))
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	a.log.Info("stopped")
	return errors.Join(errList...)
}

// runSweepers чистит устаревшие индикаторы набора и возвращает в очередь
// тикеты, которые саппортер взял, но так и не ответил.
func (a *API) runSweepers(ctx context.Context) {
	typing := time.NewTicker(time.Second)
	defer typing.Stop()

	var idle <-chan time.Time
	if a.cfg.Session.AssignmentIdleTimeout > 0 && a.cfg.Session.AssignmentSweepInterval > 0 {
		t := time.NewTicker(a.cfg.Session.AssignmentSweepInterval)
		defer t.Stop()
		idle = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-typing.C:
			a.presence.Sweep()
		case <-idle:
			a.releaseIdle(ctx)
		}
	}
}

func (a *API) releaseIdle(ctx context.Context) {
	items, err := a.assign.IdleAssigned(ctx, a.cfg.Session.AssignmentIdleTimeout)
	if err != nil {
		a.log.Error("idle assignment sweep", logging.Err(err))
		return
	}
	for _, t := range items {
		if _, err := a.gw.Release(ctx, t.ID, ""); err != nil {
			// саппортер успел ответить между выборкой и release
			if errors.Is(err, errs.ErrInvalidTransition) {
				continue
			}
			a.log.Warn("release idle ticket", slog.Uint64("ticket_id", t.ID), logging.Err(err))
			continue
		}
		a.log.Info("idle ticket returned to queue", slog.Uint64("ticket_id", t.ID), slog.String("session_id", t.SessionID))
	}
}
