// Package api exposes the validator's HTTP surface: registration, unbind,
// the peer sync feed and the read-only telemetry views.
package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hashtensor/validator/internal/config"
	"github.com/hashtensor/validator/internal/mapping"
	"github.com/hashtensor/validator/internal/metrics"
	"github.com/hashtensor/validator/internal/registry"
	"github.com/hashtensor/validator/internal/signing"
	"github.com/hashtensor/validator/internal/validator"
	"github.com/hashtensor/validator/internal/version"
)

const signatureHeader = "X-Signature"

// WorkerExistence answers whether a worker account exists on the pool.
type WorkerExistence interface {
	Exists(ctx context.Context, wallet, worker string) (bool, error)
}

// Registrar answers whether a hotkey is registered on the subnet.
type Registrar interface {
	IsHotkeyRegistered(ctx context.Context, netuid int, hotkey string) (bool, error)
}

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	cfg       *config.Config
	store     *registry.Store
	workers   WorkerExistence
	registrar Registrar
	mapping   *mapping.Cache
	validator *validator.Service
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewServer(
	cfg *config.Config,
	store *registry.Store,
	workers WorkerExistence,
	registrar Registrar,
	mappingCache *mapping.Cache,
	validatorSvc *validator.Service,
	logger *zap.SugaredLogger,
) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		workers:   workers,
		registrar: registrar,
		mapping:   mappingCache,
		validator: validatorSvc,
		logger:    logger,
		now:       time.Now,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if s.cfg.Env == "test" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{s.cfg.RemoteSiteOrigin}
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, signatureHeader)
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.health)
	router.POST("/register", s.register)
	router.POST("/unbind", s.unbind)
	router.GET("/hotkey_workers", s.hotkeyWorkers)
	router.GET("/mappings", s.mappings)
	router.GET("/metrics", s.metrics)
	if s.cfg.Env == "test" {
		router.GET("/ratings", s.ratings)
	}
	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"service": version.ServiceName,
		"version": version.Version,
	})
}

type registerRequest struct {
	Hotkey           string  `json:"hotkey" binding:"required"`
	Worker           string  `json:"worker" binding:"required"`
	RegistrationTime float64 `json:"registration_time" binding:"required"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if _, err := signing.SS58Decode(req.Hotkey); err != nil {
		badRequest(c, "Invalid ss58 address")
		return
	}

	now := float64(s.now().Unix())
	if math.Abs(now-req.RegistrationTime) > s.cfg.RegistrationTimeTolerance.Seconds() {
		badRequest(c, "Registration time is too far from current UTC time.")
		return
	}

	if !strings.Contains(req.Worker, req.Hotkey) {
		badRequest(c, "Worker name must contain the hotkey")
		return
	}

	exists, err := s.workers.Exists(c.Request.Context(), s.cfg.PoolOwnerWallet, req.Worker)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !exists {
		badRequest(c, "Worker not found. Make sure you are using the correct wallet address. "+
			"Pool owner wallet: "+s.cfg.PoolOwnerWallet)
		return
	}

	sig := c.GetHeader(signatureHeader)
	if s.cfg.VerifySignature {
		claim := signing.RegistrationClaim{
			Hotkey:           req.Hotkey,
			RegistrationTime: req.RegistrationTime,
			Worker:           req.Worker,
		}
		if !signing.Verify(req.Hotkey, claim.Canonical(), sig) {
			badRequest(c, "Invalid signature")
			return
		}
	}

	registered, err := s.registrar.IsHotkeyRegistered(c.Request.Context(), s.cfg.Netuid, req.Hotkey)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !registered {
		badRequest(c, "Hotkey not registered. To register in subnet use btcli command: `btcli subnet register`")
		return
	}

	err = s.store.Bind(req.Hotkey, req.Worker, sig, req.RegistrationTime)
	if err != nil {
		if errors.Is(err, registry.ErrWorkerExists) || errors.Is(err, registry.ErrQuotaExceeded) {
			badRequest(c, err.Error())
			return
		}
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Registration successful"})
}

type unbindRequest struct {
	Hotkey string `json:"hotkey" binding:"required"`
	Worker string `json:"worker" binding:"required"`
}

func (s *Server) unbind(c *gin.Context) {
	var req unbindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if _, err := signing.SS58Decode(req.Hotkey); err != nil {
		badRequest(c, "Invalid ss58 address")
		return
	}

	sig := c.GetHeader(signatureHeader)
	if s.cfg.VerifySignature {
		claim := signing.UnbindClaim{Hotkey: req.Hotkey, Worker: req.Worker}
		if !signing.Verify(req.Hotkey, claim.Canonical(), sig) {
			badRequest(c, "Invalid signature")
			return
		}
	}

	registered, err := s.registrar.IsHotkeyRegistered(c.Request.Context(), s.cfg.Netuid, req.Hotkey)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !registered {
		badRequest(c, "Hotkey not registered")
		return
	}

	err = s.store.Unbind(req.Hotkey, req.Worker, sig)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrAlreadyUnbound) {
			badRequest(c, err.Error())
			return
		}
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unbind successful"})
}

// hotkeyWorkers is the incremental feed peers pull during sync.
func (s *Server) hotkeyWorkers(c *gin.Context) {
	since, err := strconv.ParseFloat(c.DefaultQuery("since_timestamp", "0"), 64)
	if err != nil {
		badRequest(c, "Invalid since_timestamp")
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "100"))
	if err != nil {
		badRequest(c, "Invalid page_size")
		return
	}
	pageNumber, err := strconv.Atoi(c.DefaultQuery("page_number", "1"))
	if err != nil {
		badRequest(c, "Invalid page_number")
		return
	}

	bindings, err := s.store.ListSince(since, pageSize, pageNumber)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, bindings)
}

func (s *Server) mappings(c *gin.Context) {
	m, err := s.mapping.Mapping(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type metricsResponse struct {
	Hotkey        string                 `json:"hotkey"`
	ActiveWorkers int                    `json:"active_workers"`
	TotalWorkers  int                    `json:"total_workers"`
	IsActive      bool                   `json:"is_active"`
	Metrics       []metrics.MinerMetrics `json:"metrics"`
}

func (s *Server) metrics(c *gin.Context) {
	hotkeyMetrics, err := s.validator.HotkeyMetrics(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	response := make([]metricsResponse, 0, len(hotkeyMetrics))
	for hotkey, ms := range hotkeyMetrics {
		active := 0
		for _, m := range ms {
			if m.Uptime > 0 {
				active++
			}
		}
		response = append(response, metricsResponse{
			Hotkey:        hotkey,
			ActiveWorkers: active,
			TotalWorkers:  len(ms),
			IsActive:      active != 0,
			Metrics:       ms,
		})
	}
	c.JSON(http.StatusOK, response)
}

// ratings is a debug view, mounted only in the test environment.
func (s *Server) ratings(c *gin.Context) {
	ratings, err := s.validator.ComputeRatings(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, ratings)
}

func badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, gin.H{"detail": detail})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Errorw("internal error", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
}
