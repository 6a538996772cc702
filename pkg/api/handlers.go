package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/devicelab-dev/airplane-runner/pkg/config"
	"github.com/devicelab-dev/airplane-runner/pkg/core"
	"github.com/devicelab-dev/airplane-runner/pkg/logger"
	"github.com/devicelab-dev/airplane-runner/pkg/service"
)

func logServeError(err error) {
	logger.Error("api server: %v", err)
}

// statusFor maps error categories to HTTP status codes.
func statusFor(err error) int {
	var te *core.ToggleError
	if !errors.As(err, &te) {
		return http.StatusInternalServerError
	}
	switch te.Category {
	case core.ErrCategoryConfig:
		return http.StatusBadRequest
	case core.ErrCategoryPrivilege, core.ErrCategoryState:
		return http.StatusConflict
	case core.ErrCategoryConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var te *core.ToggleError
	if errors.As(err, &te) {
		body["code"] = te.Code
	}
	logger.Debug("%s %s [%s]: %v", c.Request.Method, c.Request.URL.Path, c.GetString("requestID"), err)
	c.JSON(statusFor(err), body)
}

// request builds a service.Request from ?mode= and ?foreground=.
func request(c *gin.Context) (service.Request, error) {
	var req service.Request
	if m := c.Query("mode"); m != "" {
		mode, err := core.ParseControlMode(m)
		if err != nil {
			return req, err
		}
		req.Mode = &mode
	}
	req.Foreground, _ = strconv.ParseBool(c.Query("foreground"))
	return req, nil
}

// GET /status
func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.backend.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GET /settings
func (s *Server) handleGetSettings(c *gin.Context) {
	cfg, err := s.backend.Settings()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// PUT /settings accepts a full or partial ToggleConfiguration.
func (s *Server) handlePutSettings(c *gin.Context) {
	var patch config.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, core.ErrInvalidConfig.WithCause(err))
		return
	}
	cfg, err := s.backend.ApplySettings(c.Request.Context(), patch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// POST /toggle/{smart|timed|on|off}
func (s *Server) handleToggle(c *gin.Context) {
	req, err := request(c)
	if err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()

	switch c.Param("action") {
	case "smart":
		res, err := s.backend.SmartToggle(ctx, req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	case "timed":
		res, err := s.backend.TimedToggle(ctx, req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	case "on", "off":
		on := c.Param("action") == "on"
		var ok bool
		if on {
			ok, err = s.backend.TurnOn(ctx, req)
		} else {
			ok, err = s.backend.TurnOff(ctx, req)
		}
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"target": on, "ok": ok})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown toggle action " + strconv.Quote(c.Param("action"))})
	}
}

// POST /refresh
func (s *Server) handleForceRefresh(c *gin.Context) {
	if err := s.backend.ForceRefresh(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// POST /privilege/refresh
func (s *Server) handleRefreshPrivilege(c *gin.Context) {
	st, err := s.backend.RefreshPrivilege(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GET /device
func (s *Server) handleDevice(c *gin.Context) {
	info, err := s.backend.DeviceInfo(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GET /logs?limit=
func (s *Server) handleLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	entries, err := s.backend.Logs(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// DELETE /logs
func (s *Server) handleClearLogs(c *gin.Context) {
	n, err := s.backend.ClearLogs(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
