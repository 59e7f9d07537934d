package proxy

import (
	"time"

	"github.com/papercomputeco/quill/pkg/config"
)

// Config is the proxy server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database, or empty for in-memory.
	DBPath string

	// UpstreamTimeout bounds each passthrough request.
	UpstreamTimeout time.Duration

	// Generation holds the defaults merged into every generation request.
	Generation config.GenerationConfig

	OCR     config.OCRConfig
	Archive config.ArchiveConfig

	// Routes is the initial passthrough table. See Proxy.SetRoutes.
	Routes []config.Route
}

// ConfigFrom maps a loaded configuration file onto the server config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		ListenAddr:      c.Server.Listen,
		DBPath:          c.Server.DBPath,
		UpstreamTimeout: c.Server.UpstreamTimeout.Duration,
		Generation:      c.Generation,
		OCR:             c.OCR,
		Archive:         c.Archive,
		Routes:          c.Routes,
	}
}
