package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"movie-auth/internal/service"
)

const (
	opRegister = "register"
	opLogin    = "login"
)

// Tipos de error expuestos en el campo "error" de las respuestas.
const (
	kindInvalidInput       = "invalid_input"
	kindDuplicateEmail     = "duplicate_email"
	kindInvalidCredentials = "invalid_credentials"
	kindInternal           = "internal"
)

// UserHandler mantiene dependencias para endpoints de usuarios.
type UserHandler struct {
	logger   *zap.Logger
	userServ *service.UserService
	metrics  *Metrics
}

// NewUserHandler crea una instancia de UserHandler con dependencias necesarias.
// metrics puede ser nil.
func NewUserHandler(logger *zap.Logger, userServ *service.UserService, metrics *Metrics) *UserHandler {
	return &UserHandler{
		logger:   logger,
		userServ: userServ,
		metrics:  metrics,
	}
}

type registerRequest struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Register maneja POST /register.
func (h *UserHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		h.fail(c, opRegister, service.ErrInvalidInput)
		return
	}

	user, err := h.userServ.Register(c.Request.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.fail(c, opRegister, err)
		return
	}

	h.metrics.observeOutcome(opRegister, "success")
	c.JSON(http.StatusCreated, gin.H{
		"type":    "success",
		"message": "Registration successful.",
		"user":    user,
	})
}

// Login maneja POST /login.
func (h *UserHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		h.fail(c, opLogin, service.ErrInvalidInput)
		return
	}

	user, err := h.userServ.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, opLogin, err)
		return
	}

	h.metrics.observeOutcome(opLogin, "success")
	c.JSON(http.StatusOK, gin.H{
		"type":    "success",
		"message": "Login successful.",
		"user":    user,
	})
}

// Healthz maneja GET /healthz.
func (h *UserHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.userServ.Ready(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type errorOutcome struct {
	status  int
	kind    string
	message string
}

// outcomeFor traduce errores del servicio a status, tipo y mensaje fijos.
// Nada del error original llega al cliente.
func outcomeFor(op string, err error) errorOutcome {
	switch {
	case errors.Is(err, service.ErrPasswordTooLong):
		return errorOutcome{http.StatusBadRequest, kindInvalidInput, "Password must be at most 72 bytes."}
	case errors.Is(err, service.ErrInvalidInput):
		if op == opLogin {
			return errorOutcome{http.StatusBadRequest, kindInvalidInput, "Email and password are required for login."}
		}
		return errorOutcome{http.StatusBadRequest, kindInvalidInput, "Name, email, and password are required."}
	case errors.Is(err, service.ErrDuplicateEmail):
		return errorOutcome{http.StatusConflict, kindDuplicateEmail, "User with this email already exists."}
	case errors.Is(err, service.ErrInvalidCredentials):
		return errorOutcome{http.StatusUnauthorized, kindInvalidCredentials, "Invalid credentials."}
	default:
		if op == opLogin {
			return errorOutcome{http.StatusInternalServerError, kindInternal, "Internal server error during login."}
		}
		return errorOutcome{http.StatusInternalServerError, kindInternal, "Internal server error during registration."}
	}
}

func (h *UserHandler) fail(c *gin.Context, op string, err error) {
	out := outcomeFor(op, err)
	if out.status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	h.metrics.observeOutcome(op, out.kind)
	c.JSON(out.status, gin.H{
		"type":    "error",
		"error":   out.kind,
		"message": out.message,
	})
}
