package di

import (
	"context"
	"time"

	"crewtext/backend/internal/channel"
	"crewtext/backend/internal/delivery"
	"crewtext/backend/internal/gate"
	"crewtext/backend/internal/ingest"
	"crewtext/backend/internal/intake"
	"crewtext/backend/internal/provider"
	"crewtext/backend/internal/queue"
	"crewtext/backend/internal/reminder"
	"crewtext/backend/internal/repository"
	"crewtext/backend/pkg/config"
	"crewtext/backend/pkg/jwt"
	"crewtext/backend/pkg/logger"
	"crewtext/backend/pkg/secrets"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Logger     *logger.Logger
	JWTService *jwt.Service

	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Events        repository.MessageEventRepository
	Assignments   repository.AssignmentRepository
	Associates    repository.AssociateRepository
	Credentials   repository.CredentialRepository

	Gate          *gate.Gate
	Arbitrator    *channel.Arbitrator
	Publisher     queue.Publisher
	Worker        *queue.Worker
	Sender        provider.Sender
	IntakeService *intake.Service
	Scheduler     *reminder.Scheduler
	CronRunner    *reminder.CronRunner
	Processor     *delivery.Processor
	Ingestion     *ingest.Service
}

// New creates a new dependency injection container
func New(db *gorm.DB, cfg *config.Config, log *logger.Logger) (*Container, error) {
	// Secrets manager resolves provider credentials, with env fallback.
	if err := secrets.Init(log); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jwtSecret := secrets.GetSecretWithDefault(ctx, "jwt_secret", cfg.JWT.Secret)
	twilioToken := secrets.GetSecretWithDefault(ctx, "twilio_auth_token", cfg.Twilio.AuthToken)

	jwtService := jwt.NewService(jwtSecret, cfg.JWT.ExpiryHours)

	conversations := repository.NewGormConversationRepository(db)
	messages := repository.NewGormMessageRepository(db)
	events := repository.NewGormMessageEventRepository(db)
	assignments := repository.NewGormAssignmentRepository(db)
	associates := repository.NewGormAssociateRepository(db)
	credentials := repository.NewGormCredentialRepository(db)

	redisClient := gate.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	counter := gate.NewRedisCounter(redisClient)
	sendGate := gate.New(counter, credentials, cfg.Messaging.RateLimitPerMinute, log)

	arbitrator := channel.NewArbitrator(conversations, messages, associates, cfg.Messaging.SessionWindowHours, log)

	publisher := queue.NewAsynqPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Queue.MaxRetry)

	sender := provider.NewTwilioClient(provider.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  twilioToken,
		BaseURL:    cfg.Twilio.BaseURL,
		Timeout:    cfg.Twilio.Timeout,
	}, log)

	worker := queue.NewWorker(queue.WorkerConfig{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Queue.Concurrency,
	}, sender, publisher, associates, conversations, messages, log)

	intakeService := intake.NewService(sendGate, arbitrator, publisher, log)

	scheduler := reminder.NewScheduler(assignments, sendGate, sender, cfg.Messaging.InterSendDelay, log)
	cronRunner := reminder.NewCronRunner(scheduler, cfg.Messaging.ReminderCronSpec, log)

	processor := delivery.NewProcessor(events, messages, conversations, sendGate, sender, log)

	ingestion := ingest.NewService(associates, conversations, messages, nil, log)

	return &Container{
		DB:            db,
		Redis:         redisClient,
		Logger:        log,
		JWTService:    jwtService,
		Conversations: conversations,
		Messages:      messages,
		Events:        events,
		Assignments:   assignments,
		Associates:    associates,
		Credentials:   credentials,
		Gate:          sendGate,
		Arbitrator:    arbitrator,
		Publisher:     publisher,
		Worker:        worker,
		Sender:        sender,
		IntakeService: intakeService,
		Scheduler:     scheduler,
		CronRunner:    cronRunner,
		Processor:     processor,
		Ingestion:     ingestion,
	}, nil
}
