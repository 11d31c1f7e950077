// quizdash - real-time 1v1 quiz battle service
package main

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"quizdash/database"
	"quizdash/handlers"
	"quizdash/logger"
	"quizdash/middleware"
	"quizdash/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Info(".env file not found, using system environment variables")
	}
	logger.Init()
	defer logger.Sync()

	validateEnvironment()

	// Initialize database
	database.InitDB()
	defer database.CloseDB()
	db := database.GetDB()

	// Wire the core services
	broker := services.NewBroker()

	presence := services.NewPresenceDirectory(broker)
	presence.Start()
	defer presence.Stop()

	challengeStore := database.NewChallengeStore(db)
	statsStore := database.NewStatsStore(db)
	questionSource := services.NewBankQuestionSource(db)

	notifier := services.MultiNotifier{
		services.LogNotifier{},
		services.NewBrokerNotifier(broker),
	}

	challengeService := services.NewChallengeService(challengeStore, questionSource, presence, broker, notifier)
	battleManager := services.NewBattleManager(challengeStore, broker)
	reconciler := services.NewReconciler(challengeStore, statsStore, broker, reconcileGrace())

	cleanup := services.NewCleanupService(db)
	cleanup.Start()
	defer cleanup.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024, // 1MB
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))

	// CORS configuration
	corsOrigins := os.Getenv("CORS_ORIGINS")
	if corsOrigins == "" {
		corsOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))

	// API Routes
	api := app.Group("/api")

	// Auth routes
	api.Post("/auth/guest", handlers.GuestLogin)

	// Challenge routes (require authentication)
	challengeHandler := handlers.NewChallengeHandler(challengeService, reconciler)
	challengeGroup := api.Group("/challenges")
	challengeGroup.Use(middleware.AuthMiddleware)
	challengeGroup.Post("/direct", challengeHandler.CreateDirect)
	challengeGroup.Post("/link", challengeHandler.CreateLink)
	challengeGroup.Get("/pending", challengeHandler.ListPending)
	challengeGroup.Get("/code/:code", challengeHandler.GetByCode)
	challengeGroup.Post("/code/:code/accept", challengeHandler.AcceptByCode)
	challengeGroup.Get("/:id", challengeHandler.Get)
	challengeGroup.Post("/:id/accept", challengeHandler.Accept)
	challengeGroup.Post("/:id/cancel", challengeHandler.Cancel)
	challengeGroup.Get("/:id/result", challengeHandler.Result)

	// Presence routes
	presenceHandler := handlers.NewPresenceHandler(presence)
	api.Get("/presence", middleware.AuthMiddleware, presenceHandler.List)
	api.Post("/presence/heartbeat", middleware.AuthMiddleware, presenceHandler.Heartbeat)

	// Stats routes
	statsHandler := handlers.NewStatsHandler(statsStore)
	api.Get("/stats/me", middleware.AuthMiddleware, statsHandler.Me)

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"version":   "1.0.0",
		})
	})

	// Start WebSocket server on its own port (pure net/http)
	gateway := handlers.NewWSGateway(challengeService, battleManager, reconciler, presence, broker)
	wsPort := getEnv("WS_PORT", "4000")
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", gateway.Handler)

	wsServer := &http.Server{
		Addr:    ":" + wsPort,
		Handler: wsMux,
	}

	go func() {
		logger.Info("websocket server starting", "port", wsPort)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("websocket server failed", "error", err)
		}
	}()

	// Start Fiber HTTP/REST server
	port := getEnv("PORT", "3000")
	logger.Info("http server starting", "port", port, "env", getEnv("APP_ENV", "development"))
	if err := app.Listen(":" + port); err != nil {
		logger.Fatal("failed to start http server", "error", err)
	}
}

// reconcileGrace reads the abandonment grace window; zero disables forced
// completion of one-sided battles.
func reconcileGrace() time.Duration {
	raw := getEnv("RECONCILE_GRACE_SECONDS", "30")
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		logger.Warn("invalid RECONCILE_GRACE_SECONDS, using default", "value", raw)
		return 30 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

// validateEnvironment checks for required environment variables
func validateEnvironment() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET environment variable must be set. Generate one with: openssl rand -base64 64")
	}
	if len(jwtSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters long")
	}

	if os.Getenv("APP_ENV") == "production" {
		corsOrigins := os.Getenv("CORS_ORIGINS")
		if corsOrigins == "" || corsOrigins == "http://localhost:3000" {
			logger.Warn("CORS_ORIGINS not properly configured for production")
		}
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Don't expose internal errors in production
	if os.Getenv("APP_ENV") == "production" && code == 500 {
		message = "An error occurred. Please try again later."
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
