package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"chatline/internal/app/commands"
	"chatline/internal/app/dto"
	conversationsapp "chatline/internal/app/handlers/conversations"
	messagesapp "chatline/internal/app/handlers/messages"
	presenceapp "chatline/internal/app/handlers/presence"
	"chatline/internal/app/handlers/support"
	"chatline/internal/app/middleware"
	appoutbox "chatline/internal/app/outbox"
	"chatline/internal/app/queries"
	"chatline/internal/app/services/attachments"
	authsvc "chatline/internal/app/services/auth"
	domainauth "chatline/internal/domain/auth"
	domainconversation "chatline/internal/domain/conversation"
	domainmessage "chatline/internal/domain/message"
	domainpresence "chatline/internal/domain/presence"
	domainuser "chatline/internal/domain/user"
	"chatline/internal/infra/broker/kafka"
	"chatline/internal/infra/config"
	mongostore "chatline/internal/infra/db/mongo"
	"chatline/internal/infra/db/scylla"
	ginserver "chatline/internal/infra/http/gin"
	"chatline/internal/infra/obs"
	outboxrelay "chatline/internal/infra/outbox"
	"chatline/internal/infra/realtime"
	"chatline/internal/infra/security"
	"chatline/internal/infra/storage/memory"
	"chatline/internal/infra/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		obs.NewLogger(os.Getenv("APP_ENV")).Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "storage", cfg.Storage, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := st.close(closeCtx); err != nil {
			logger.Warn("storage close failed", "error", err)
		}
	}()

	resetPresence(ctx, st, logger)

	app, err := buildApplication(cfg, st, logger)
	if err != nil {
		logger.Error("application init failed", "error", err)
		os.Exit(1)
	}

	if err := app.loadUserFixtures(ctx, getenv("USERS_FIXTURES", defaultUserFixturesPath()), logger); err != nil {
		logger.Warn("user fixtures load failed", "error", err)
	}

	relayDone := make(chan struct{})
	if app.relay != nil {
		go func() {
			defer close(relayDone)
			if err := app.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox relay stopped", "error", err)
			}
		}()
	} else {
		close(relayDone)
		logger.Info("outbox relay disabled, no kafka brokers configured")
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Ready: st.ready}, app.handlers)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", cfg.Storage)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	stop()
	<-relayDone
	if app.producer != nil {
		if err := app.producer.Close(); err != nil {
			logger.Warn("kafka producer close failed", "error", err)
		}
	}
	logger.Info("HTTP server stopped")
}

// resetPresence marks users left online by a previous run offline. This process
// owns every live connection, so none of them can still be connected.
func resetPresence(ctx context.Context, st stores, logger *slog.Logger) {
	n, err := st.presence.ResetOnline(ctx, time.Now().UTC())
	if err != nil {
		logger.Warn("presence reset failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("stale presence cleared", "users", n)
	}
}

// stores groups the persistence ports selected by STORAGE.
type stores struct {
	conversations domainconversation.Repository
	messages      domainmessage.Repository
	users         domainuser.Repository
	presence      domainpresence.Store
	sessions      domainauth.SessionStore
	idempotency   middleware.IdempotencyStore
	outbox        appoutbox.Outbox
	queue         appoutbox.Queue
	ready         func(ctx context.Context) error
	close         func(ctx context.Context) error
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	st, err := openPrimaryStores(ctx, cfg, logger)
	if err != nil || cfg.MessageStore != config.StorageScylla {
		return st, err
	}

	session, err := scylla.NewSession(ctx, cfg, logger)
	if err != nil {
		_ = st.close(context.Background())
		return stores{}, err
	}
	st.messages = scylla.NewMessageRepository(session)
	primaryReady, primaryClose := st.ready, st.close
	st.ready = func(ctx context.Context) error {
		if err := primaryReady(ctx); err != nil {
			return err
		}
		return session.Ping(ctx)
	}
	st.close = func(ctx context.Context) error {
		return errors.Join(session.Close(ctx), primaryClose(ctx))
	}
	return st, nil
}

// openPrimaryStores opens every port on the STORAGE backend. MESSAGE_STORE may
// later move message history elsewhere.
func openPrimaryStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.Storage != config.StorageMongo {
		users := memory.NewUserRepository()
		box := memory.NewOutbox()
		return stores{
			conversations: memory.NewConversationRepository(),
			messages:      memory.NewMessageRepository(),
			users:         users,
			presence:      users,
			sessions:      memory.NewSessionStore(),
			idempotency:   memory.NewIdempotencyStore(),
			outbox:        box,
			queue:         box,
			ready:         func(context.Context) error { return nil },
			close:         func(context.Context) error { return nil },
		}, nil
	}

	client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return stores{}, err
	}
	st := stores{ready: client.Ping, close: client.Close}
	fail := func(err error) (stores, error) {
		_ = client.Close(context.Background())
		return stores{}, err
	}
	conversations, err := mongostore.NewConversationRepository(ctx, client.DB)
	if err != nil {
		return fail(err)
	}
	messages, err := mongostore.NewMessageRepository(ctx, client.DB)
	if err != nil {
		return fail(err)
	}
	users, err := mongostore.NewUserRepository(ctx, client.DB)
	if err != nil {
		return fail(err)
	}
	sessions, err := mongostore.NewSessionStore(ctx, client.DB)
	if err != nil {
		return fail(err)
	}
	idem, err := mongostore.NewIdempotencyStore(ctx, client.DB)
	if err != nil {
		return fail(err)
	}
	box, err := outboxrelay.NewStore(ctx, client.DB)
	if err != nil {
		return fail(err)
	}
	st.conversations = conversations
	st.messages = messages
	st.users = users
	st.presence = users
	st.sessions = sessions
	st.idempotency = idem
	st.outbox = box
	st.queue = box
	logger.Info("mongo storage ready", "database", cfg.MongoDB)
	return st, nil
}

type application struct {
	handlers ginserver.Handlers
	auth     *authsvc.Service
	relay    *outboxrelay.Worker
	producer *kafka.Producer
}

func buildApplication(cfg config.Config, st stores, logger *slog.Logger) (application, error) {
	registry := realtime.NewRegistry()
	rooms := realtime.NewRooms()
	hub := realtime.NewHub(registry, rooms, realtime.TypingScope(cfg.TypingScope), logger)
	tracker := realtime.NewTracker(registry, rooms, st.presence, hub, logger)

	env := support.Env{
		Publisher: hub,
		Outbox:    st.outbox,
		Encoder:   appoutbox.JSONEventEncoder{},
		Logger:    logger,
	}
	convStore := conversationsapp.Store{Conversations: st.conversations, Users: st.users, NewID: uuid.NewString}
	readStore := messagesapp.ReadStore{Conversations: st.conversations, Messages: st.messages}

	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler(commandBus, conversationsapp.CreateDirectKey, &conversationsapp.CreateDirectHandler{Store: convStore, Env: env})
	commands.RegisterHandler(commandBus, conversationsapp.CreateGroupKey, &conversationsapp.CreateGroupHandler{Store: convStore, Env: env})
	manage := &conversationsapp.ManageHandler{Store: convStore, Env: env}
	commands.RegisterHandler(commandBus, conversationsapp.UpdateKey, commands.HandlerFunc[conversationsapp.UpdateCommand, *dto.Conversation](manage.Update))
	commands.RegisterHandler(commandBus, conversationsapp.DeleteKey, commands.HandlerFunc[conversationsapp.DeleteCommand, *dto.Conversation](manage.Delete))
	membership := &conversationsapp.MembershipHandler{Store: convStore, Env: env}
	commands.RegisterHandler(commandBus, conversationsapp.AddParticipantsKey, commands.HandlerFunc[conversationsapp.AddParticipantsCommand, *dto.Conversation](membership.Add))
	commands.RegisterHandler(commandBus, conversationsapp.RemoveParticipantKey, commands.HandlerFunc[conversationsapp.RemoveParticipantCommand, *dto.Conversation](membership.Remove))
	commands.RegisterHandler(commandBus, conversationsapp.LeaveKey, commands.HandlerFunc[conversationsapp.LeaveCommand, *dto.Conversation](membership.Leave))
	commands.RegisterHandler(commandBus, messagesapp.SendMessageKey, &messagesapp.SendMessageHandler{
		Conversations: st.conversations,
		Messages:      st.messages,
		SlowMode:      &messagesapp.SlowModeGate{},
		NewID:         uuid.NewString,
		Env:           env,
	})
	commands.RegisterHandler(commandBus, messagesapp.MarkReadKey, &messagesapp.MarkReadHandler{ReadStore: readStore, Env: env})
	commands.RegisterHandler(commandBus, messagesapp.MarkManyReadKey, &messagesapp.MarkManyReadHandler{ReadStore: readStore, Env: env})
	modify := &messagesapp.ModifyHandler{ReadStore: readStore, Env: env}
	commands.RegisterHandler(commandBus, messagesapp.EditMessageKey, commands.HandlerFunc[messagesapp.EditMessageCommand, *dto.ChatMessage](modify.Edit))
	commands.RegisterHandler(commandBus, messagesapp.ReactMessageKey, commands.HandlerFunc[messagesapp.ReactMessageCommand, *dto.ChatMessage](modify.React))
	commands.RegisterHandler(commandBus, messagesapp.DeleteMessageKey, commands.HandlerFunc[messagesapp.DeleteMessageCommand, *dto.ChatMessage](modify.Delete))

	queryBus := queries.NewInMemoryBus()
	convQueries := &conversationsapp.QueryHandler{Conversations: st.conversations}
	queries.RegisterHandler(queryBus, conversationsapp.ListKey, queries.HandlerFunc[conversationsapp.ListQuery, *dto.ConversationList](convQueries.List))
	queries.RegisterHandler(queryBus, conversationsapp.GetKey, queries.HandlerFunc[conversationsapp.GetQuery, *dto.Conversation](convQueries.Get))
	queries.RegisterHandler(queryBus, messagesapp.ListMessagesKey, &messagesapp.ListMessagesHandler{ReadStore: readStore})
	queries.RegisterHandler(queryBus, presenceapp.OnlineUsersKey, &presenceapp.OnlineUsersHandler{Store: st.presence})

	validator := middleware.NewStructValidator()
	cmds := middleware.ChainCommands(
		commandBus,
		middleware.Logging(logger),
		middleware.RequireActor(),
		middleware.Validation(validator),
		middleware.Idempotency(st.idempotency, nil, cfg.IdempotencyTTL),
		middleware.OutboxFlush(st.outbox, logger),
	)
	qs := middleware.ChainQueries(
		queryBus,
		middleware.QueryRequireActor(),
		middleware.QueryValidation(validator),
	)

	auth := &authsvc.Service{
		Users:      st.users,
		Sessions:   st.sessions,
		Passwords:  security.BcryptHasher{},
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}

	gateway := realtime.NewGateway(ginserver.SessionAuthenticator{Service: auth}, cmds, qs, hub, rooms, tracker, realtime.GatewayConfig{
		CookieName:      cfg.SessionCookie,
		SendBuffer:      cfg.WSSendBuffer,
		FramesPerSecond: cfg.WSFramesPerSecond,
		RoomJoinAuthz:   cfg.RoomJoinAuthz,
		AllowedOrigins:  cfg.AllowedOrigins,
	}, logger)

	files := &attachments.Service{NewID: uuid.NewString, Logger: logger}
	if cfg.AttachmentsEnabled() {
		client, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
		if err != nil {
			return application{}, err
		}
		files.Uploader = client
	} else {
		logger.Info("attachments disabled, no S3 endpoint configured")
	}

	app := application{
		auth: auth,
		handlers: ginserver.Handlers{
			Auth: ginserver.AuthHandler{
				Service:      auth,
				CookieName:   cfg.SessionCookie,
				CookieSecure: cfg.CookieSecure,
				Logger:       logger,
			},
			Conversations:  ginserver.ConversationHandler{Commands: cmds, Queries: qs, Logger: logger},
			Messages:       ginserver.MessageHandler{Commands: cmds, Logger: logger},
			Presence:       &ginserver.PresenceHandler{Queries: qs, Logger: logger},
			Attachments:    &ginserver.AttachmentHandler{Service: files, Logger: logger},
			Realtime:       gateway,
			AuthMiddleware: ginserver.AuthMiddleware{Service: auth, CookieName: cfg.SessionCookie, Logger: logger}.Handle,
		},
	}

	if cfg.RelayEnabled() {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID, nil)
		if err != nil {
			return application{}, err
		}
		app.producer = producer
		app.relay = &outboxrelay.Worker{
			Queue:       st.queue,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
			Logger:      logger,
		}
	}
	return app, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
