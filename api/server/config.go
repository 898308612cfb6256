package server

import (
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartbuilding/internal/config"
)

const redacted = "******"

// GetConfigResponse 获取配置响应
type GetConfigResponse struct {
	Config *config.Config `json:"config"`
}

// UpdateConfigRequest 更新配置请求
type UpdateConfigRequest struct {
	Config *config.Config `json:"config" binding:"required"`
}

// redact 返回隐藏了密码的配置副本
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	for _, secret := range []*string{
		&out.Database.Password,
		&out.Elasticsearch.Password,
		&out.Redis.Password,
		&out.Mail.Password,
		&out.MQTT.Password,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}
	return &out
}

// keepSecrets 未修改的密码沿用当前值
func keepSecrets(next, current *config.Config) {
	pairs := [][2]*string{
		{&next.Database.Password, &current.Database.Password},
		{&next.Elasticsearch.Password, &current.Elasticsearch.Password},
		{&next.Redis.Password, &current.Redis.Password},
		{&next.Mail.Password, &current.Mail.Password},
		{&next.MQTT.Password, &current.MQTT.Password},
	}
	for _, p := range pairs {
		if *p[0] == redacted {
			*p[0] = *p[1]
		}
	}
}

// getConfig 获取系统配置
func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, GetConfigResponse{Config: redact(s.config)})
}

// updateConfig 更新系统配置, 重启后生效
func (s *Server) updateConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.configPath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "Service was started without a config file"})
		return
	}

	keepSecrets(req.Config, s.config)
	if err := req.Config.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := config.SaveToFile(s.configPath, req.Config); err != nil {
		s.log.Error("failed to save config", zap.String("path", s.configPath), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save config"})
		return
	}

	s.log.Info("configuration saved", zap.String("path", s.configPath))
	c.JSON(http.StatusOK, gin.H{
		"message": "Configuration updated successfully. Please restart the service for changes to take effect.",
		"config":  redact(req.Config),
	})
}

// restartService 给自己发 SIGTERM, 由进程管理器拉起
func (s *Server) restartService(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Restart signal sent. Service will restart shortly...",
	})

	go func() {
		time.Sleep(100 * time.Millisecond)
		p, err := os.FindProcess(os.Getpid())
		if err != nil {
			s.log.Error("failed to find own process", zap.Error(err))
			return
		}
		if err := p.Signal(syscall.SIGTERM); err != nil {
			s.log.Error("failed to signal restart", zap.Error(err))
		}
	}()
}
