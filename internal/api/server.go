package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jobs/integration-engine/pkg/config"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

func NewServer(
	cfg config.Config,
	installs *InstallationAPI,
	credentials *CredentialAPI,
	common *CommonAPI,
	logger *zap.Logger,
) *Server {
	logger = logger.Named("api")
	s := &Server{logger: logger}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(RequestID())
	s.router.Use(ErrorHandlingMiddleware(logger))
	s.router.Use(Cors(cfg.Server.AllowedOrigins))

	NewInstallationAPIWrap(installs).BindAll(s.router)
	NewCredentialAPIWrap(credentials).BindAll(s.router)
	NewCommonAPIWrap(common).BindAll(s.router)

	s.http = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run 阻塞直到 Shutdown 被调用
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
