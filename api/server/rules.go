package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartbuilding/internal/alert"
	"smartbuilding/internal/logger"
	"smartbuilding/internal/models"
)

// Common request types
type IDRequest struct {
	ID uint `json:"id" binding:"required"`
}

type ListRulesRequest struct {
	EnabledOnly bool `json:"enabled_only"`
}

type UpdateRuleRequest struct {
	ID     uint           `json:"id" binding:"required"`
	Fields map[string]any `json:"fields" binding:"required"`
}

type HistoryRequest struct {
	ID    uint `json:"id" binding:"required"`
	Limit int  `json:"limit"`
}

func (s *Server) addAlertRule(c *gin.Context) {
	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if rule.CreatedBy == "" {
		rule.CreatedBy = "api"
	}

	id, err := s.deps.Rules.Create(c.Request.Context(), &rule)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "message": "Alert rule created successfully"})
}

func (s *Server) listAlertRules(c *gin.Context) {
	var req ListRulesRequest
	// 空请求体表示列出全部
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	rules, err := s.deps.Rules.List(c.Request.Context(), req.EnabledOnly)
	if err != nil {
		s.fail(c, err)
		return
	}
	if rules == nil {
		rules = []models.AlertRule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "total": len(rules)})
}

func (s *Server) getAlertRule(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := s.deps.Rules.Get(c.Request.Context(), req.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) updateAlertRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := s.deps.Rules.Update(c.Request.Context(), req.ID, req.Fields)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Alert rule updated successfully", "rule": rule})
}

func (s *Server) removeAlertRule(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Rules.Delete(c.Request.Context(), req.ID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Alert rule removed successfully"})
}

func (s *Server) toggleAlertRule(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enabled, err := s.deps.Rules.Toggle(c.Request.Context(), req.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	msg := "Alert rule disabled"
	if enabled {
		msg = "Alert rule enabled"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "enabled": enabled, "message": msg})
}

// testAlertRule 用最近一小时的数据试跑规则, 不记录也不发送通知
func (s *Server) testAlertRule(c *gin.Context) {
	var req IDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.deps.Poller.TestRule(c.Request.Context(), req.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) alertRuleStats(c *gin.Context) {
	stats, err := s.deps.Rules.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) alertRuleTemplate(c *gin.Context) {
	c.JSON(http.StatusOK, alert.DefaultRule())
}

func (s *Server) alertRuleHistory(c *gin.Context) {
	var req HistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := s.deps.Rules.Get(ctx, req.ID); err != nil {
		s.fail(c, err)
		return
	}
	history, err := s.deps.Rules.History(ctx, req.ID, req.Limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if history == nil {
		history = []models.AlertHistory{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history, "total": len(history)})
}

// queryTriggerLogs 查询本地触发日志
func (s *Server) queryTriggerLogs(c *gin.Context) {
	if s.deps.TriggerLogDir == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Trigger log is not enabled"})
		return
	}

	var req logger.TriggerLogQuery
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := logger.QueryTriggerLogs(c.Request.Context(), s.deps.TriggerLogDir, &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) dashboardStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Poller.DashboardStats(c.Request.Context()))
}
