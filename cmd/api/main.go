package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bvce/edupay/pkg/config"
	"github.com/bvce/edupay/pkg/gateway"
	"github.com/bvce/edupay/pkg/ledger"
	"github.com/bvce/edupay/pkg/payments"
	"github.com/bvce/edupay/pkg/store"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger and payment services behind the HTTP API.
type Server struct {
	ledger     *ledger.Ledger
	payments   *payments.Service
	storage    store.Storage // Keep a reference to the storage to close it
	validate   *validator.Validate
	translator ut.Translator
	jwtSecret  []byte
}

func NewServer(s store.Storage, gw gateway.Gateway, cfg *config.Config) (*Server, error) {
	l := ledger.NewLedger(s)
	validate, translator, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &Server{
		ledger:     l,
		payments:   payments.NewService(s, l, gw, cfg.Currency),
		storage:    s,
		validate:   validate,
		translator: translator,
		jwtSecret:  []byte(cfg.JWTSecret),
	}, nil
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(requestLogger)

	router.HandleFunc("/health", s.healthHandler).Methods("GET")

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(s.authenticate, requireRole(roleAdmin))
	admin.HandleFunc("/config/fee", s.configureFeeHandler).Methods("POST")
	admin.HandleFunc("/students/search", s.searchStudentHandler).Methods("GET")
	admin.HandleFunc("/students/{usn}/fees", s.updateStudentFeesHandler).Methods("PUT")
	admin.HandleFunc("/students/{usn}/transactions", s.studentTransactionsHandler).Methods("GET")
	admin.HandleFunc("/exam-notifications", s.createExamNotificationHandler).Methods("POST")

	students := router.PathPrefix("/students").Subrouter()
	students.Use(s.authenticate, requireRole(roleStudent))
	students.HandleFunc("/profile", s.profileHandler).Methods("GET")
	students.HandleFunc("/eligibility", s.eligibilityHandler).Methods("GET")
	students.HandleFunc("/exams", s.examFeesHandler).Methods("GET")

	pay := router.PathPrefix("/payments").Subrouter()
	pay.Use(s.authenticate, requireRole(roleStudent))
	pay.HandleFunc("/key", s.paymentKeyHandler).Methods("GET")
	pay.HandleFunc("/create-order", s.createOrderHandler).Methods("POST")
	pay.HandleFunc("/verify", s.verifyPaymentHandler).Methods("POST")
	pay.HandleFunc("/my-history", s.paymentHistoryHandler).Methods("GET")

	return router
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logrus.SetLevel(lvl)
	}
}

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	setupLogging(cfg.LogLevel)

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize SQLite store")
	}
	defer sqliteStore.Close()

	gw := gateway.NewRazorpay(gateway.Config{
		BaseURL:   cfg.GatewayBaseURL,
		KeyID:     cfg.GatewayKeyID,
		KeySecret: cfg.GatewayKeySecret,
		Timeout:   cfg.GatewayTimeout,
	})
	server, err := NewServer(sqliteStore, gw, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up server")
	}

	// Unconfirmed gateway orders expire so they can never be credited later.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ExpirySchedule, func() {
		if _, err := server.payments.ExpireStaleOrders(cfg.OrderTTL); err != nil {
			logrus.WithError(err).Error("Order expiry sweep failed")
		}
	}); err != nil {
		logrus.WithError(err).WithField("schedule", cfg.ExpirySchedule).Fatal("Invalid EXPIRY_SCHEDULE")
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.AppEnv}).Info("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Graceful shutdown failed")
	}
}
