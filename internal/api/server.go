package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/clevora/clevora-api/internal/config"
	"github.com/clevora/clevora-api/internal/database"
	"github.com/clevora/clevora-api/internal/gateway"
	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/internal/outbox"
	"github.com/clevora/clevora-api/internal/reconcile"
	"github.com/clevora/clevora-api/internal/repository"
	"github.com/clevora/clevora-api/internal/service"
	"github.com/clevora/clevora-api/internal/signature"
	"github.com/clevora/clevora-api/internal/sweep"
	"github.com/clevora/clevora-api/pkg/cache"
	"github.com/clevora/clevora-api/pkg/circuitbreaker"
	"github.com/clevora/clevora-api/pkg/kafka"
	"github.com/clevora/clevora-api/pkg/logger"
	"github.com/clevora/clevora-api/pkg/middleware"
	"github.com/clevora/clevora-api/pkg/retry"
)

// The handler-facing service surfaces. Narrow interfaces keep the handlers
// testable against in-memory fakes.
type orderAPI interface {
	CreateOrder(ctx context.Context, input service.CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetCustomerOrders(ctx context.Context, customerID int64, limit, offset int) ([]*models.Order, error)
	Cancel(ctx context.Context, orderID string, customerID *int64) (*models.Order, error)
	OverrideStatus(ctx context.Context, orderID string, status string) (*models.Order, error)
}

type shipmentAPI interface {
	GetByOrderID(ctx context.Context, orderID string) (*models.Shipment, error)
	MarkShipped(ctx context.Context, orderID string) (*models.Shipment, error)
	MarkArrived(ctx context.Context, orderID string) (*models.Shipment, error)
	MarkReturned(ctx context.Context, orderID string) (*models.Shipment, error)
	MarkPickedUp(ctx context.Context, orderID string, customerID *int64) (*models.Shipment, error)
	Complete(ctx context.Context, orderID string, customerID *int64) (*models.Shipment, error)
	RequestReturn(ctx context.Context, orderID string, customerID *int64) (*models.Shipment, error)
	SetReturnLogistics(ctx context.Context, orderID string, customerID *int64, returnStoreName string) (*models.Shipment, error)
	AutoComplete(ctx context.Context, window time.Duration) ([]string, error)
}

type reconcilerAPI interface {
	HandleECPayNotify(ctx context.Context, form map[string]string) string
	HandleLinePayConfirm(ctx context.Context, transactionID, orderID string) (*models.Order, error)
}

type ecpayCheckout interface {
	BuildCheckout(order *models.Order) *gateway.CheckoutForm
}

type linepayCheckout interface {
	RequestPayment(ctx context.Context, order *models.Order, items []models.LineItem) (*gateway.PaymentRequestResult, error)
	BreakerState() circuitbreaker.State
}

type deadLetterAPI interface {
	GetMessages(ctx context.Context, limit, offset int) ([]*models.DeadLetterMessage, error)
	GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error)
	ResetToRetry(ctx context.Context, id int64) error
	MarkAsDiscarded(ctx context.Context, id int64, reason string) error
}

// Server is the HTTP edge of the order/payment/shipment core
type Server struct {
	config     *config.Config
	logger     logger.Logger
	router     *mux.Router
	httpServer *http.Server

	db            *database.Database
	kafkaProducer *kafka.Producer
	ackCache      cache.Cache

	orderService    orderAPI
	shipmentService shipmentAPI
	reconciler      reconcilerAPI
	ecpay           ecpayCheckout
	linepay         linepayCheckout
	dlq             deadLetterAPI

	outboxProcessor     *outbox.Processor
	deadLetterProcessor *outbox.DeadLetterProcessor
	sweepRunner         *sweep.Runner
	rateLimiter         *middleware.RateLimiterMiddleware
}

// NewServer wires the full application and returns a ready-to-start server
func NewServer(cfg *config.Config, logger logger.Logger) *Server {
	r := mux.NewRouter()

	db, err := database.New(cfg, logger)

	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		panic(err)
	}

	if err := db.RunMigrations(); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		panic(err)
	}

	orderRepo := repository.NewOrderRepository(db, logger)
	shipmentRepo := repository.NewShipmentRepository(db, logger)
	outboxRepo := repository.NewOutboxRepository(db, logger)
	dlqRepo := repository.NewDeadLetterRepository(db, logger)

	ecpaySigner, err := signature.NewECPaySigner(cfg.ECPay.HashKey, cfg.ECPay.HashIV, signature.SHA256)

	if err != nil {
		logger.Error("Failed to initialize ECPay signer", "error", err)
		panic(err)
	}

	linepaySigner, err := signature.NewLinePaySigner(cfg.LinePay.ChannelID, cfg.LinePay.ChannelSecret)

	if err != nil {
		logger.Error("Failed to initialize LINE Pay signer", "error", err)
		panic(err)
	}

	ecpayGateway := gateway.NewECPay(cfg.ECPay, cfg.PublicDomain, ecpaySigner, logger)
	linepayGateway := gateway.NewLinePay(cfg.LinePay, cfg.PublicDomain, linepaySigner, logger)

	orderService := service.NewOrderService(orderRepo, logger)
	shipmentService := service.NewShipmentService(shipmentRepo, orderRepo, logger)

	var ackCache cache.Cache

	if cfg.Redis.Enabled {
		ackCache = cache.NewRedisCache(cfg.Redis.Addr, "clevora")
	}

	reconciler := reconcile.NewReconciler(orderService, shipmentService, ecpayGateway, linepayGateway, ackCache, logger)

	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers, logger)

	if err != nil {
		logger.Error("Failed to create Kafka producer", "error", err)
		panic(err)
	}

	outboxProcessor := outbox.NewProcessor(outboxRepo, dlqRepo, outbox.ProcessorConfig{
		PollingInterval: 5 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
	}, logger)

	deadLetterProcessor := outbox.NewDeadLetterProcessor(dlqRepo, logger, &outbox.DeadLetterProcessorConfig{
		PollingInterval: 30 * time.Second,
		BatchSize:       5,
		MaxRetries:      5,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: 1 * time.Second,
			MaxInterval:     2 * time.Minute,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	})

	kafkaHandler := outbox.NewKafkaHandler(kafkaProducer, cfg.Kafka.EventsTopic, logger)

	for _, eventType := range []string{
		models.EventOrderCreated,
		models.EventOrderSettled,
		models.EventShipmentCreated,
		models.EventShipmentStatusChanged,
	} {
		outboxProcessor.RegisterHandler(eventType, kafkaHandler)
		deadLetterProcessor.RegisterHandler(eventType, kafkaHandler)
	}

	sweepRunner := sweep.NewRunner(logger)
	sweepRunner.Register(
		sweep.NewPaymentTimeoutTask(orderService, cfg.Sweep.PaymentWindow, 100, logger),
		cfg.Sweep.PaymentInterval,
	)
	sweepRunner.Register(
		sweep.NewShipmentAutoCompleteTask(shipmentService, cfg.Sweep.ShipmentWindow, logger),
		cfg.Sweep.ShipmentInterval,
	)

	rateLimiter := middleware.NewRateLimiterMiddleware(&middleware.RateLimiterConfig{
		GlobalMaxTokens:   100,
		GlobalRefillRate:  50,
		IPMaxTokens:       10,
		IPRefillRate:      1,
		TrustForwardedFor: true,
	}, logger)

	server := &Server{
		config: cfg,
		logger: logger,
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		db:                  db,
		kafkaProducer:       kafkaProducer,
		ackCache:            ackCache,
		orderService:        orderService,
		shipmentService:     shipmentService,
		reconciler:          reconciler,
		ecpay:               ecpayGateway,
		linepay:             linepayGateway,
		dlq:                 dlqRepo,
		outboxProcessor:     outboxProcessor,
		deadLetterProcessor: deadLetterProcessor,
		sweepRunner:         sweepRunner,
		rateLimiter:         rateLimiter,
	}

	server.setupRoutes()

	outboxProcessor.Start()
	deadLetterProcessor.Start()
	sweepRunner.Start()

	return server
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server and its background workers
func (s *Server) Shutdown(ctx context.Context) error {
	s.sweepRunner.Stop()
	s.outboxProcessor.Stop()
	s.deadLetterProcessor.Stop()
	s.rateLimiter.Stop()

	if s.kafkaProducer != nil {
		if err := s.kafkaProducer.Close(); err != nil {
			s.logger.Error("Error closing Kafka producer", "error", err)
		}
	}

	if s.ackCache != nil {
		if err := s.ackCache.Close(); err != nil {
			s.logger.Error("Error closing ack cache", "error", err)
		}
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Error closing database connection", "error", err)
	}

	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	// Provider-facing endpoints live at the root, matching the URLs
	// registered with the payment providers.
	s.router.Handle("/ecpay/notify", http.HandlerFunc(s.ecpayNotifyHandler)).Methods(http.MethodPost)
	s.router.Handle("/pay/confirm", http.HandlerFunc(s.linePayConfirmHandler)).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	// Checkout takes the rate limiter: a burst of /pay requests means
	// pending orders and outbound gateway calls.
	api.Handle("/pay", s.rateLimiter.Middleware(http.HandlerFunc(s.checkoutHandler))).Methods(http.MethodPost)

	api.HandleFunc("/orders", s.getCustomerOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.getOrderHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/status", s.getOrderStatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/shipment", s.getShipmentHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/cancel", s.cancelOrderHandler).Methods(http.MethodPost)

	// Customer shipment actions, authenticated by the X-Customer-ID header.
	api.HandleFunc("/orders/{id}/mark-picked-up", s.markPickedUpHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/complete", s.completeShipmentHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/return", s.requestReturnHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/set-return-logistics", s.setReturnLogisticsHandler).Methods(http.MethodPost)

	// Fulfillment actions are keyed by order ID, like every other surface:
	// a shipment is unique per order and operators work with order numbers.
	admin := s.router.PathPrefix("/api/v1/admin").Subrouter()
	admin.HandleFunc("/orders/{id}/status", s.overrideOrderStatusHandler).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}/ship", s.markShippedHandler).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}/mock-delivered", s.markArrivedHandler).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}/mark-returned", s.markReturnedHandler).Methods(http.MethodPost)
	admin.HandleFunc("/shipments/auto-complete", s.autoCompleteHandler).Methods(http.MethodPost)
	admin.HandleFunc("/gateway/status", s.gatewayStatusHandler).Methods(http.MethodGet)
	admin.HandleFunc("/dead-letters", s.getDeadLettersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/dead-letters/{id}/retry", s.retryDeadLetterHandler).Methods(http.MethodPost)
	admin.HandleFunc("/dead-letters/{id}/discard", s.discardDeadLetterHandler).Methods(http.MethodPost)
}

// loggingMiddleware logs each processed request
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}
