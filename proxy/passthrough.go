package proxy

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/papercomputeco/quill/pkg/config"
	"github.com/papercomputeco/quill/pkg/llm"
)

// TokenHeader carries the caller's route access token.
const TokenHeader = "X-Quill-Token"

// maxUpstreamBody bounds relayed passthrough bodies.
const maxUpstreamBody = 32 << 20

// forwardedHeaders are copied from the caller to the upstream.
var forwardedHeaders = []string{"Content-Type", "Accept", "Accept-Language"}

// relayedHeaders are copied from the upstream back to the caller.
var relayedHeaders = []string{"Content-Type", "Cache-Control", "Retry-After"}

type route struct {
	config.Route
	upstream *url.URL
	limiter  *rate.Limiter
}

type routeTable struct {
	routes map[string]*route
}

func compileRoutes(routes []config.Route) (*routeTable, error) {
	t := &routeTable{routes: make(map[string]*route, len(routes))}
	for _, r := range routes {
		if _, dup := t.routes[r.Name]; dup {
			return nil, fmt.Errorf("route %q: duplicate name", r.Name)
		}
		u, err := url.Parse(r.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("route %q: upstream must be an absolute URL", r.Name)
		}

		compiled := &route{Route: r, upstream: u}
		if r.RateLimit > 0 {
			burst := r.Burst
			if burst < 1 {
				burst = 1
			}
			compiled.limiter = rate.NewLimiter(rate.Limit(r.RateLimit), burst)
		}
		t.routes[r.Name] = compiled
	}
	return t, nil
}

// SetRoutes atomically replaces the passthrough table. Requests already in
// flight finish against the table they started with.
func (p *Proxy) SetRoutes(routes []config.Route) error {
	t, err := compileRoutes(routes)
	if err != nil {
		return err
	}
	p.routes.Store(t)
	return nil
}

// handlePassthrough relays a request to a configured upstream, attaching the
// route's server-held secret. The upstream status and body are returned
// unchanged.
func (p *Proxy) handlePassthrough(c *fiber.Ctx) error {
	name := c.Params("route")
	rt, ok := p.routes.Load().routes[name]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "unknown route: " + name})
	}

	if rt.AccessToken != "" {
		token := c.Get(TokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(rt.AccessToken)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(llm.ErrorResponse{Error: "invalid access token"})
		}
	}

	query, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "malformed query string"})
	}
	for _, param := range rt.RequiredQuery {
		if query.Get(param) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "missing required query parameter: " + param})
		}
	}

	if rt.limiter != nil && !rt.limiter.Allow() {
		return c.Status(fiber.StatusTooManyRequests).JSON(llm.ErrorResponse{Error: "rate limit exceeded"})
	}

	if rt.Secret != "" && rt.SecretQuery != "" {
		query.Set(rt.SecretQuery, rt.Secret)
	}

	target := *rt.upstream
	target.Path = strings.TrimRight(target.Path, "/") + "/" + strings.TrimLeft(c.Params("*"), "/")
	target.RawPath = ""
	target.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(context.Background(), c.Method(), target.String(), bytes.NewReader(c.Body()))
	if err != nil {
		return fmt.Errorf("create upstream request: %w", err)
	}
	for _, h := range forwardedHeaders {
		if v := c.Get(h); v != "" {
			httpReq.Header.Set(h, v)
		}
	}
	if rt.Secret != "" && rt.SecretHeader != "" {
		httpReq.Header.Set(rt.SecretHeader, rt.SecretPrefix+rt.Secret)
	}

	p.logger.Debug("forwarding passthrough request",
		zap.String("route", name),
		zap.String("method", c.Method()),
		zap.String("path", target.Path),
	)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.Error("passthrough upstream failed", zap.String("route", name), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream request failed"})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		p.logger.Error("passthrough upstream read failed", zap.String("route", name), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream request failed"})
	}

	for _, h := range relayedHeaders {
		if v := resp.Header.Get(h); v != "" {
			c.Set(h, v)
		}
	}
	return c.Status(resp.StatusCode).Send(body)
}
