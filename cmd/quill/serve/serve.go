package servecmder

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/quill/cmd/quill/cfgpath"
	"github.com/papercomputeco/quill/pkg/config"
	"github.com/papercomputeco/quill/pkg/logger"
	"github.com/papercomputeco/quill/proxy"
)

const serveLongDesc string = `Run the quill server.

The server exposes generation, OCR, the key-value store, the event feed
and the configured passthrough routes over HTTP. Provider keys stay on
the server.

Examples:
  quill serve
  quill serve --config ./quill.toml --listen :9090 --watch
  quill serve --db :memory: --debug`

const serveShortDesc string = "Run the quill server"

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	configPath string
	listen     string
	dbPath     string
	debug      bool
	watch      bool

	// ready receives the bound address once the server is listening.
	ready chan<- net.Addr
}

func NewServeCmd() *cobra.Command {
	return newServeCmd(&serveCommander{})
}

func newServeCmd(cmder *serveCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        serveShortDesc,
		Long:         serveLongDesc,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cmder.configPath, "config", "c", "", "Path to quill.toml")
	flags.StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (overrides the config)")
	flags.StringVar(&cmder.dbPath, "db", "", "Path to the SQLite database (\":memory:\" for in-memory)")
	flags.BoolVarP(&cmder.debug, "debug", "d", false, "Enable debug logging")
	flags.BoolVarP(&cmder.watch, "watch", "w", false, "Reload passthrough routes when the config file changes")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, path, err := cfgpath.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.listen != "" {
		cfg.Server.Listen = c.listen
	}
	cfg.Server.DBPath, err = cfgpath.ResolveDBPath(c.dbPath, cfg)
	if err != nil {
		return err
	}

	log := logger.NewLogger(c.debug)
	defer log.Sync()

	p, err := proxy.New(proxy.ConfigFrom(cfg), log)
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}
	defer p.Close()

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", cfg.Server.Listen, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.watch {
		if path == "" {
			log.Warn("--watch ignored: no config file")
		} else {
			go c.watchConfig(ctx, path, p, log)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.RunWithListener(ln)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "quill listening on %s\n", ln.Addr())
	if c.ready != nil {
		c.ready <- ln.Addr()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (c *serveCommander) watchConfig(ctx context.Context, path string, p *proxy.Proxy, log *zap.Logger) {
	err := config.Watch(ctx, path, config.DefaultDebounce, log, func(cfg *config.Config, err error) {
		if err != nil {
			log.Warn("ignoring invalid config", zap.Error(err))
			return
		}
		if err := p.Reload(cfg); err != nil {
			log.Warn("could not apply config", zap.Error(err))
		}
	})
	if err != nil {
		log.Error("config watcher stopped", zap.Error(err))
	}
}
