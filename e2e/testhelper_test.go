package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/amharic-code-craft/orchestrator/internal/handler"
	"github.com/amharic-code-craft/orchestrator/internal/middleware"
	"github.com/amharic-code-craft/orchestrator/internal/service"
	ws "github.com/amharic-code-craft/orchestrator/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app *fiber.App
}

// setupApp creates a Fiber app identical to main.go but without the asynq
// worker server, so enqueued jobs stay queued and handler behavior can be
// asserted deterministically.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	return setupAppWithConfirmationTTL(t, 30*time.Minute)
}

// setupAppWithConfirmationTTL lets expiry tests shrink the confirmation
// window to something that elapses within the test.
func setupAppWithConfirmationTTL(t *testing.T, confirmationTTL time.Duration) *testApp {
	t.Helper()

	// Redis (localhost — must be running)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})

	// Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()

	// Services
	qualityService := service.NewQualityService(redisClient)
	jobService := service.NewJobService(redisClient, asynqClient, qualityService, hub)
	confirmationService := service.NewConfirmationService(redisClient, asynqClient, hub, confirmationTTL)
	experimentService := service.NewExperimentService(redisClient, nil)
	thinkingService := service.NewThinkingService(redisClient, hub)

	// Handlers
	jobHandler := handler.NewJobHandler(jobService, validate)
	confirmationHandler := handler.NewConfirmationHandler(confirmationService, validate)
	experimentHandler := handler.NewExperimentHandler(experimentService, validate)
	qualityHandler := handler.NewQualityHandler(qualityService, validate)
	thinkingHandler := handler.NewThinkingHandler(thinkingService, validate)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	// Base routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"ai":   false,
				"auth": true,
			},
		})
	})

	// API routes (authenticated)
	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(10000), jobHandler.Create)
	jobs.Get("/:jobId", jobHandler.Get)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	confirmations := api.Group("/confirmations", rateLimiter.ConfirmationsLimit(10000))
	confirmations.Post("/evaluate", confirmationHandler.Evaluate)
	confirmations.Post("/", confirmationHandler.Request)
	confirmations.Get("/:id", confirmationHandler.Get)
	confirmations.Post("/:id/resolve", confirmationHandler.Resolve)

	experiments := api.Group("/experiments", rateLimiter.ExperimentsLimit(10000))
	experiments.Post("/", experimentHandler.Create)
	experiments.Get("/routing/:patternId", experimentHandler.GetRouting)
	experiments.Get("/:id", experimentHandler.GetStats)
	experiments.Post("/:id/results", experimentHandler.RecordResult)
	experiments.Post("/:id/conclude", experimentHandler.Conclude)

	quality := api.Group("/quality")
	quality.Post("/evaluate", qualityHandler.Evaluate)
	quality.Put("/policy", qualityHandler.SetPolicy)
	quality.Get("/policy", qualityHandler.GetPolicy)

	thinking := api.Group("/thinking", rateLimiter.TelemetryLimit(10000))
	thinking.Post("/:scopeId/steps", thinkingHandler.Emit)
	thinking.Get("/:scopeId", thinkingHandler.Get)
	thinking.Delete("/:scopeId", thinkingHandler.Clear)

	return &testApp{app: app}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	return generateTokenFor(t, "test-user-123")
}

// generateTokenFor creates a token for a specific user, for tests that need
// an isolated per-user scope.
func generateTokenFor(t *testing.T, userID string) string {
	t.Helper()
	claims := middleware.UserClaims{
		UserID: userID,
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "codecraft-orchestrator",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// doUserRequest performs an authenticated request as a specific user.
func doUserRequest(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateTokenFor(t, userID)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
