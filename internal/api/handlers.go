package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RuleDTO is the wire form of a rule.
type RuleDTO struct {
	Type         string  `json:"type"`
	Target       string  `json:"target"`
	DelaySeconds float64 `json:"delay_seconds"`
}

// EnabledRequest sets the flag explicitly; an empty body toggles.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/status", s.status)
	s.engine.GET("/rules", s.rules)
	s.engine.POST("/toggle", s.toggle)
	s.engine.POST("/reload", s.reload)
	s.engine.POST("/resume-all", s.resumeAll)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.config.Version})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Status())
}

func (s *Server) rules(c *gin.Context) {
	rules := s.controller.Rules()
	out := make([]RuleDTO, len(rules))
	for i, r := range rules {
		out[i] = RuleDTO{
			Type:         string(r.Kind),
			Target:       r.Target,
			DelaySeconds: r.Delay.Seconds(),
		}
	}
	c.JSON(http.StatusOK, gin.H{"rules": out})
}

func (s *Server) toggle(c *gin.Context) {
	var req EnabledRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var enabled bool
	if req.Enabled != nil {
		s.controller.SetEnabled(*req.Enabled)
		enabled = *req.Enabled
	} else {
		enabled = s.controller.Toggle()
	}
	s.logger.Info("suspension toggled via api", zap.Bool("enabled", enabled))
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

func (s *Server) reload(c *gin.Context) {
	if err := s.controller.Reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule_count": len(s.controller.Rules())})
}

func (s *Server) resumeAll(c *gin.Context) {
	resumed := s.controller.ResumeAll()
	if resumed == nil {
		resumed = []int{}
	}
	c.JSON(http.StatusOK, gin.H{"resumed": resumed})
}
