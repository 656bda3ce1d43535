package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/cardrail/internal/logging"
)

type idempotencyFixture struct {
	app   *fiber.App
	mr    *miniredis.Miniredis
	calls *atomic.Int32
}

func setupTestApp(t *testing.T) idempotencyFixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	calls := &atomic.Int32{}
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(callerLocal, Caller{CompanyID: c.Get("X-Company"), UserID: "user-1"})
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/cards/fund", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})
	app.Post("/cards/fail", func(c *fiber.Ctx) error {
		calls.Add(1)
		return fiber.NewError(fiber.StatusBadGateway, "rail down")
	})
	app.Get("/cards/fund", func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.SendStatus(fiber.StatusOK)
	})
	return idempotencyFixture{app: app, mr: mr, calls: calls}
}

func send(t *testing.T, app *fiber.App, method, path, company, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Company", company)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	f := setupTestApp(t)

	status, _ := send(t, f.app, fiber.MethodPost, "/cards/fund", "company-a", "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("handler must not run without a key")
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	f := setupTestApp(t)

	status, first := send(t, f.app, fiber.MethodPost, "/cards/fund", "company-a", "fund-1")
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
	}
	status, second := send(t, f.app, fiber.MethodPost, "/cards/fund", "company-a", "fund-1")
	if status != fiber.StatusCreated {
		t.Fatalf("expected replayed status %d got %d", fiber.StatusCreated, status)
	}
	if first != second {
		t.Fatalf("expected replay %s got %s", first, second)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("expected one handler call, got %d", f.calls.Load())
	}
}

func TestIdempotencyKeysAreScopedPerCompany(t *testing.T) {
	f := setupTestApp(t)

	_, a := send(t, f.app, fiber.MethodPost, "/cards/fund", "company-a", "shared")
	_, b := send(t, f.app, fiber.MethodPost, "/cards/fund", "company-b", "shared")
	if a == b {
		t.Fatalf("company b must not receive company a's response: %s", b)
	}
	if f.calls.Load() != 2 {
		t.Fatalf("expected two handler calls, got %d", f.calls.Load())
	}
	if !f.mr.Exists(idempotencyPrefix + "company-b:shared") {
		t.Fatalf("expected scoped cache key")
	}
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	f := setupTestApp(t)
	if err := f.mr.Set(idempotencyPrefix+"company-a:busy", inProgressMarker); err != nil {
		t.Fatalf("seed: %v", err)
	}

	status, _ := send(t, f.app, fiber.MethodPost, "/cards/fund", "company-a", "busy")
	if status != fiber.StatusConflict {
		t.Fatalf("expected %d got %d", fiber.StatusConflict, status)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("handler must not run for an in-flight key")
	}
}

func TestIdempotencyReleasesKeyOnHandlerError(t *testing.T) {
	f := setupTestApp(t)

	send(t, f.app, fiber.MethodPost, "/cards/fail", "company-a", "retry-me")
	if f.mr.Exists(idempotencyPrefix + "company-a:retry-me") {
		t.Fatalf("failed request must release its key")
	}
	send(t, f.app, fiber.MethodPost, "/cards/fail", "company-a", "retry-me")
	if f.calls.Load() != 2 {
		t.Fatalf("expected the retry to reach the handler, got %d calls", f.calls.Load())
	}
}

func TestIdempotencySkipsReads(t *testing.T) {
	f := setupTestApp(t)

	status, _ := send(t, f.app, fiber.MethodGet, "/cards/fund", "company-a", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}
}

func TestIdempotencyWithoutCachePassesThrough(t *testing.T) {
	app := fiber.New()
	app.Use(Idempotency(nil, time.Minute, logging.Discard()))
	app.Post("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusAccepted) })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/x", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected %d got %d", fiber.StatusAccepted, resp.StatusCode)
	}
}
