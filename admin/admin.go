package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/core/registry"
	"gitee.com/Ljolan/si-im/core/service"
	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/utils/runtimex"
	"github.com/gin-gonic/gin"
)

// Server 运维接口：健康检查、运行状态、会话查询和服务端推送
type Server struct {
	broker *service.Server
	engine *gin.Engine
	http   *http.Server
}

func New(broker *service.Server) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{broker: broker, engine: gin.New()}
	s.engine.Use(accessLog(), gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthz)
	v1 := s.engine.Group("/v1")
	{
		v1.GET("/stats", s.stats)
		v1.GET("/sessions/:appId/:userId", s.sessions)
		v1.POST("/push", s.push)
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 后台监听，出错只记录日志
func (s *Server) Start(addr string) {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	runtimex.Go(func() {
		logger.Logger.Infof("admin listen on %s", addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Errorf("admin server: %v", err)
		}
	})
}

func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Logger.Debugf("admin %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, message.Success(gin.H{"status": "ok"}))
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, message.Success(s.broker.Stats()))
}

func (s *Server) sessions(c *gin.Context) {
	appId, err := strconv.ParseInt(c.Param("appId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, message.FailWith(message.ErrParam, nil))
		return
	}
	list, err := s.broker.Sessions().List(c.Request.Context(), int32(appId), c.Param("userId"))
	if err != nil {
		logger.Logger.Errorf("admin: list sessions: %v", err)
		c.JSON(http.StatusInternalServerError, message.FailWith(message.ErrSystem, nil))
		return
	}
	c.JSON(http.StatusOK, message.Success(list))
}

// PushReq 服务端主动推送给用户的所有在线设备
type PushReq struct {
	AppId   int32           `json:"appId" binding:"required"`
	UserId  string          `json:"userId" binding:"required"`
	Command message.Command `json:"command" binding:"required"`
	Data    interface{}     `json:"data"`
}

type PushResp struct {
	Live []string `json:"live"`
}

func (s *Server) push(c *gin.Context) {
	req := &PushReq{}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, message.Fail(message.CodeParamError, err.Error(), nil))
		return
	}
	live, err := s.broker.Router().ToAllDevices(c.Request.Context(), req.AppId, req.UserId, req.Command, req.Data)
	if err != nil {
		logger.Logger.Errorf("admin: push to %d:%s: %v", req.AppId, req.UserId, err)
		c.JSON(http.StatusInternalServerError, message.FailWith(message.ErrSystem, nil))
		return
	}
	c.JSON(http.StatusOK, message.Success(&PushResp{Live: identities(live)}))
}

func identities(ids []registry.Identity) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
