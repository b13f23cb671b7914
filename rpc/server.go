// Package rpc implements the bundler's JSON-RPC HTTP surface: one
// echo.Echo per process, one POST route per configured chain, plus the
// debug_bundler_* methods used by test harnesses.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tanpx12/chain-guard-bundler/core/bundling"
	"github.com/tanpx12/chain-guard-bundler/core/eth"
	"github.com/tanpx12/chain-guard-bundler/core/mempool"
	"github.com/tanpx12/chain-guard-bundler/core/reputation"
	bundlermetrics "github.com/tanpx12/chain-guard-bundler/metrics"
	"github.com/tanpx12/chain-guard-bundler/pkg/logger"
)

// NetworkServices bundles the per-network components one chain's RPC route
// dispatches against.
type NetworkServices struct {
	ChainID    *big.Int
	Facade     *eth.Facade
	Mempool    *mempool.Service
	Bundling   *bundling.Service
	Reputation *reputation.Service
	Metrics    *bundlermetrics.Metrics
}

// Config carries the process-wide HTTP surface settings.
type Config struct {
	TestingMode bool
	Host        string
	Port        int
	CORSOrigin  string
}

// Server is the JSON-RPC HTTP surface: one route per configured network at
// "/{chainId}" (the network's numeric chain id); each route dispatches to the
// network under the key it has in --config.
type Server struct {
	echo        *echo.Echo
	networks    map[string]*NetworkServices
	testingMode bool
	log         logger.Logger
}

func New(cfg Config, networks map[string]*NetworkServices, log logger.Logger) *Server {
	s := &Server{
		networks:    networks,
		testingMode: cfg.TestingMode,
		log:         logger.EnsureLogger(log),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: corsOrigins(cfg.CORSOrigin),
	}))

	e.GET("/up", func(c echo.Context) error {
		return c.String(http.StatusOK, "up")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	for chainKey, net := range networks {
		e.POST("/"+net.ChainID.String(), s.handleRPC(chainKey))
	}
	if cfg.TestingMode && len(networks) == 1 {
		for chainKey := range networks {
			e.POST("/rpc/", s.handleRPC(chainKey))
		}
	}

	s.echo = e
	return s
}

func corsOrigins(origin string) []string {
	if origin == "" {
		return []string{"*"}
	}
	return []string{origin}
}

// Start blocks serving on addr ("host:port"); callers run it in a goroutine.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleRPC(chainKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		net, ok := s.networks[chainKey]
		if !ok {
			return c.NoContent(http.StatusNotFound)
		}

		var req Request
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return c.JSON(http.StatusBadRequest, &Response{
				JSONRPC: "2.0",
				Error:   &ResponseError{Message: fmt.Sprintf("malformed request: %v", err), Code: -32700},
			})
		}

		result, err := s.dispatch(c.Request().Context(), net, &req)
		resp := &Response{JSONRPC: "2.0", ID: req.ID}
		if err != nil {
			resp.Error = toResponseError(err)
			s.log.Warnf("rpc %s failed: %v", req.Method, err)
			return c.JSON(http.StatusOK, resp)
		}
		resp.Result = result
		return c.JSON(http.StatusOK, resp)
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
