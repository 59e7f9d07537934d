package proxy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/quill/pkg/events"
)

// keepAliveInterval is how often an idle event stream sends a comment line.
const keepAliveInterval = 15 * time.Second

// handleEvents streams bus events as Server-Sent Events. The optional
// "topics" query parameter is a comma-separated topic filter.
func (p *Proxy) handleEvents(c *fiber.Ctx) error {
	var topics []string
	for _, t := range strings.Split(c.Query("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	// subscribe before the handler returns so no event published after the
	// response starts is missed
	ch, cancel := p.bus.Subscribe(events.DefaultBuffer, topics...)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					p.logger.Error("failed to encode event", zap.Error(err))
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Topic, data)
			case <-ticker.C:
				w.WriteString(": keep-alive\n\n")
			}
			if err := w.Flush(); err != nil {
				p.logger.Debug("event stream client disconnected", zap.Error(err))
				return
			}
		}
	}))

	return nil
}
