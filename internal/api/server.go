package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/iso_agent/internal/controller"
	"github.com/dgnsrekt/iso_agent/internal/host"
	"github.com/dgnsrekt/iso_agent/internal/signal"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	ListExceptions(ctx context.Context) ([]string, error)
	AddException(ctx context.Context, raw string) (string, error)
	RemoveException(ctx context.Context, raw string) (string, error)
	TabStatus(ctx context.Context, tabID host.TabID) (controller.TabStatus, error)
	Sweep(ctx context.Context) (string, error)
	OracleStatus() controller.OracleStatus
	TrackedDomains() []string
	ContainerID() host.ContainerID
}

func NewServer(svc Service, broker *signal.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Isolator Control API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/api/v1/events", eventStream(broker))

	registerExceptionHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *host.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case host.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case host.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case host.CodeCDPUnavailable, host.CodeOracleUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
