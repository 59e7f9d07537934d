// Package proxy serves quill's HTTP API: generation with NDJSON streaming,
// OCR, list persistence, an SSE event feed and stateless passthrough routes
// that attach server-held secrets.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/quill/pkg/archive"
	"github.com/papercomputeco/quill/pkg/config"
	"github.com/papercomputeco/quill/pkg/events"
	"github.com/papercomputeco/quill/pkg/generate"
	"github.com/papercomputeco/quill/pkg/llm"
	"github.com/papercomputeco/quill/pkg/store"
)

// Proxy is quill's HTTP server. It holds no per-user state: generation
// config comes with each request or from server defaults, and long-lived
// lists live in the store.
type Proxy struct {
	config     Config
	store      store.Store
	client     *generate.Client
	inflight   *generate.Registry
	bus        *events.Bus
	archiver   archive.Archiver
	routes     atomic.Pointer[routeTable]
	logger     *zap.Logger
	httpClient *http.Client
	server     *fiber.App
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithStore replaces the store New would open from Config.DBPath.
func WithStore(s store.Store) Option {
	return func(p *Proxy) {
		p.store = s
	}
}

// WithArchiver replaces the archiver New would build from Config.Archive.
func WithArchiver(a archive.Archiver) Option {
	return func(p *Proxy) {
		p.archiver = a
	}
}

// WithBus sets the event bus.
func WithBus(b *events.Bus) Option {
	return func(p *Proxy) {
		p.bus = b
	}
}

// New creates a new Proxy.
func New(config Config, logger *zap.Logger, opts ...Option) (*Proxy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Proxy{
		config:   config,
		logger:   logger,
		inflight: generate.NewRegistry(),
		httpClient: &http.Client{
			Timeout: config.UpstreamTimeout,
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.SetRoutes(config.Routes); err != nil {
		return nil, err
	}

	if p.store == nil {
		if config.DBPath != "" {
			s, err := store.NewSQLiteStore(config.DBPath)
			if err != nil {
				return nil, fmt.Errorf("failed to create SQLite store: %w", err)
			}
			p.store = s
			logger.Info("using SQLite storage", zap.String("path", config.DBPath))
		} else {
			p.store = store.NewMemoryStore()
			logger.Info("using in-memory storage")
		}
	}

	if p.archiver == nil {
		if config.Archive.Enabled {
			a, err := archive.NewMinioArchiver(config.Archive, logger)
			if err != nil {
				return nil, err
			}
			p.archiver = a
			logger.Info("archiving images", zap.String("bucket", config.Archive.Bucket))
		} else {
			p.archiver = archive.Nop{}
		}
	}

	if p.bus == nil {
		p.bus = events.NewBus(logger)
	}

	genTimeout := config.Generation.Timeout.Duration
	if genTimeout == 0 {
		genTimeout = 5 * time.Minute
	}
	p.client = generate.New(
		generate.WithLogger(logger),
		generate.WithHTTPClient(&http.Client{Timeout: genTimeout}),
	)

	p.server = fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		BodyLimit:             32 << 20,
		ErrorHandler:          p.handleError,
	})
	p.registerRoutes(p.server)

	return p, nil
}

func (p *Proxy) registerRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	api := app.Group("/api")
	api.Post("/generate", p.handleGenerate)
	api.Post("/generate/batch", p.handleGenerateBatch)
	api.Post("/ocr", p.handleOCR)
	api.Get("/store/:key", p.handleGetList)
	api.Put("/store/:key", p.handlePutList)
	api.Get("/events", p.handleEvents)
	api.All("/proxy/:route/*", p.handlePassthrough)
}

// App returns the underlying fiber app, for mounting or testing.
func (p *Proxy) App() *fiber.App {
	return p.server
}

// Bus returns the server's event bus.
func (p *Proxy) Bus() *events.Bus {
	return p.bus
}

// Run starts the proxy server on the configured listening address.
func (p *Proxy) Run() error {
	p.logger.Info("starting proxy server",
		zap.String("listen", p.config.ListenAddr),
		zap.Int("routes", len(p.routes.Load().routes)),
	)

	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener serves on an existing listener.
func (p *Proxy) RunWithListener(ln net.Listener) error {
	p.logger.Info("starting proxy server", zap.String("listen", ln.Addr().String()))
	return p.server.Listener(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.bus.Close()
	return p.server.ShutdownWithContext(ctx)
}

// Reload applies a re-read configuration file. Only the passthrough table
// is hot-swappable; other sections need a restart.
func (p *Proxy) Reload(c *config.Config) error {
	if err := p.SetRoutes(c.Routes); err != nil {
		return err
	}
	p.bus.Publish(events.TopicConfigReloaded, map[string]any{"routes": len(c.Routes)})
	p.logger.Info("configuration reloaded", zap.Int("routes", len(c.Routes)))
	return nil
}

// Close shuts down the proxy and releases resources.
func (p *Proxy) Close() error {
	p.bus.Close()
	return p.store.Close()
}

func (p *Proxy) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		p.logger.Error("unhandled request error",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(code).JSON(llm.ErrorResponse{Error: msg})
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
