package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rideguard/internal/config"
	handlers "rideguard/internal/handlers/shared"
	"rideguard/internal/middleware"
	"rideguard/internal/models"
	"rideguard/internal/repositories/interfaces"
	"rideguard/internal/repositories/memory"
	mongorepo "rideguard/internal/repositories/mongodb"
	"rideguard/internal/services"
	"rideguard/internal/utils"
	"rideguard/pkg/cache"
	"rideguard/pkg/database"
	"rideguard/pkg/logger"
	"rideguard/pkg/maps"
	"rideguard/pkg/push"
	"rideguard/pkg/responder"
	"rideguard/pkg/sms"
	"rideguard/pkg/storage"
	"rideguard/pkg/websocket"
	"rideguard/routes"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(&logger.Config{
		Level:  logger.LogLevel(cfg.App.LogLevel),
		Format: cfg.App.LogFormat,
		Output: "stdout",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Incident store: MongoDB when configured, in-memory otherwise.
	var repo interfaces.IncidentRepository
	var mongoDB *database.MongoDB
	if cfg.Database.URI != "" {
		mongoDB, err = database.NewMongoDB(&database.DatabaseConfig{
			URI:            cfg.Database.URI,
			Database:       cfg.Database.Database,
			MaxPoolSize:    cfg.Database.MaxPoolSize,
			MinPoolSize:    cfg.Database.MinPoolSize,
			ConnectTimeout: cfg.Database.ConnectTimeout,
			SocketTimeout:  cfg.Database.SocketTimeout,
		})
		if err != nil {
			appLogger.WithError(err).Warn("MongoDB unavailable, falling back to in-memory store")
		}
	}
	if mongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := mongorepo.EnsureIndexes(ctx, mongoDB.Database); err != nil {
			appLogger.WithError(err).Warn("Failed to ensure indexes")
		}
		cancel()
		repo = mongorepo.NewIncidentRepository(mongoDB)
	} else {
		repo = memory.NewIncidentRepository()
	}

	// Redis backs the idempotency cache, transition de-duplication and the
	// durable broadcast queues. Optional.
	var redisCache *cache.RedisCache
	redisCache, err = cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		IdleTimeout:  cfg.Redis.IdleTimeout,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		appLogger.WithError(err).Warn("Redis unavailable, running without durable queues")
		redisCache = nil
	}

	wsHandler := websocket.NewHandler(redisCache)

	var smsProvider sms.SMSProvider
	switch cfg.SMS.Provider {
	case "aws":
		if provider, err := sms.NewAWSSNSProvider(cfg.SMS.AWS.Region); err == nil {
			smsProvider = provider
		} else {
			appLogger.WithError(err).Warn("AWS SNS unavailable")
		}
	default:
		if cfg.SMS.Twilio.AccountSID != "" {
			smsProvider = sms.NewTwilioProvider(cfg.SMS.Twilio.AccountSID, cfg.SMS.Twilio.AuthToken, cfg.SMS.Twilio.FromNumber)
		}
	}

	var pushProvider push.PushProvider
	if cfg.Push.FCM.Credentials != "" {
		if provider, err := push.NewFCMProvider(cfg.Push.FCM.Credentials); err == nil {
			pushProvider = provider
		} else {
			appLogger.WithError(err).Warn("FCM unavailable")
		}
	}

	var geocoder maps.Geocoder
	if cfg.Maps.GoogleMaps.APIKey != "" {
		if provider, err := maps.NewGoogleMapsProvider(cfg.Maps.GoogleMaps.APIKey); err == nil {
			geocoder = provider
		} else {
			appLogger.WithError(err).Warn("Google Maps unavailable")
		}
	}

	var storageProvider storage.StorageProvider
	switch cfg.Storage.Provider {
	case "s3":
		storageProvider, err = storage.NewAWSS3Storage(cfg.Storage.AWS.Region, cfg.Storage.AWS.Bucket, cfg.Storage.AWS.CDNDomain)
	default:
		storageProvider, err = storage.NewLocalStorage(cfg.Storage.Local.BasePath, cfg.Storage.Local.BaseURL)
	}
	if err != nil {
		appLogger.WithError(err).Warn("Attachment storage unavailable")
		storageProvider = nil
	}

	gateways := buildGateways(cfg)

	locks := utils.NewKeyedMutex()
	slaService := services.NewSLAService(cfg.SOS, repo, appLogger)
	dispatchService := services.NewDispatchService(cfg.SOS, repo, locks, gateways, wsHandler, slaService, appLogger)
	notifier := services.NewNotificationService(cfg.SOS, repo, smsProvider, pushProvider, cfg.SMS.Twilio.FromNumber, appLogger)
	responseService := services.NewResponseService(cfg.SOS, repo, locks, redisCache, wsHandler, dispatchService, slaService, notifier, geocoder, appLogger)
	slaService.SetEscalator(responseService)
	timelineService := services.NewTimelineService(cfg.SOS, repo)

	if err := slaService.Start(); err != nil {
		appLogger.WithError(err).Warn("Failed to start SLA sweep")
	}

	// Re-arm timers for responses that were open before a restart.
	rearmTimers(repo, slaService, appLogger)

	sosHandler := handlers.NewSOSHandler(responseService, dispatchService, timelineService, wsHandler, storageProvider)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(appLogger))

	v1 := router.Group("/api/v1")
	{
		routes.SetupSOSRoutes(v1, sosHandler, wsHandler, cfg.Security.JWTSecret, cfg.SOS.GatewayAPIKey)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": cfg.App.Version,
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithField("addr", server.Addr).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down")
	slaService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.WithError(err).Error("Forced shutdown")
	}
	if mongoDB != nil {
		_ = mongoDB.Close()
	}
	if redisCache != nil {
		_ = redisCache.Close()
	}
}

// buildGateways wires one gateway per external service. REST endpoints for
// the direct service integrations, a Twilio voice bridge for the national
// emergency line.
func buildGateways(cfg *config.Config) map[models.ServiceType]responder.Gateway {
	gateways := make(map[models.ServiceType]responder.Gateway)
	sos := cfg.SOS

	if sos.MedicalEndpoint != "" {
		gateways[models.ServiceTypeMedical] = responder.NewRESTGateway(string(models.ServiceTypeMedical), sos.MedicalEndpoint, sos.GatewayAPIKey)
	}
	if sos.PoliceEndpoint != "" {
		gateways[models.ServiceTypePolice] = responder.NewRESTGateway(string(models.ServiceTypePolice), sos.PoliceEndpoint, sos.GatewayAPIKey)
	}
	if sos.FireEndpoint != "" {
		gateways[models.ServiceTypeFire] = responder.NewRESTGateway(string(models.ServiceTypeFire), sos.FireEndpoint, sos.GatewayAPIKey)
	}
	if cfg.SMS.Twilio.AccountSID != "" && sos.EmergencyLineNumber != "" {
		gateways[models.ServiceTypeNationalEmergency] = responder.NewTwilioVoiceGateway(
			cfg.SMS.Twilio.AccountSID,
			cfg.SMS.Twilio.AuthToken,
			cfg.SMS.Twilio.FromNumber,
			sos.EmergencyLineNumber,
		)
	}
	return gateways
}

func rearmTimers(repo interfaces.IncidentRepository, slaService *services.SLAService, appLogger *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	open, err := repo.GetOpenResponses(ctx)
	if err != nil {
		appLogger.WithError(err).Warn("Failed to load open responses for timer recovery")
		return
	}
	for _, resp := range open {
		slaService.Register(resp)
	}
	if len(open) > 0 {
		appLogger.WithField("count", len(open)).Info("Re-armed SLA timers for open responses")
	}
}
