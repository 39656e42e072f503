package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"gitee.com/Ljolan/si-im/config"
	"gitee.com/Ljolan/si-im/core/auth"
	"gitee.com/Ljolan/si-im/core/bus"
	"gitee.com/Ljolan/si-im/core/dispatch"
	"gitee.com/Ljolan/si-im/core/login"
	"gitee.com/Ljolan/si-im/core/pipeline"
	"gitee.com/Ljolan/si-im/core/registry"
	"gitee.com/Ljolan/si-im/core/router"
	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/store"
	getty "github.com/apache/dubbo-getty"
	gxsync "github.com/dubbogo/gost/sync"
	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"
)

var ErrServerRunning = errors.New("service: server is already running")

// Server 一个 broker 进程：接入层、注册表、路由、分发和消息处理流程
type Server struct {
	cfg *config.SIConfig

	running  *atomic.Bool
	released sync.Once
	cancel   context.CancelFunc

	cs         *components
	reg        *registry.Registry
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	consumer   *pipeline.Consumer
	workers    *pipeline.Pool
	events     gxsync.GenericTaskPool // 上下线通知等不影响主流程的异步任务
	cron       *cron.Cron

	servers []getty.Server
}

// NewServer 按配置构建所有组件，不监听端口
func NewServer(ctx context.Context, cfg *config.SIConfig) (*Server, error) {
	model, err := login.ParseModel(cfg.Broker.LoginModel)
	if err != nil {
		return nil, err
	}
	authenticator, err := auth.NewAuthenticator(auth.Default)
	if err != nil {
		return nil, err
	}

	cs, err := openComponents(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, cs: cs, running: atomic.NewBool(false)}

	if s.workers, err = pipeline.NewPool(cfg.Pipeline.WorkerPoolSize); err != nil {
		cs.close()
		return nil, err
	}
	s.events = gxsync.NewTaskPoolSimple(cfg.Broker.ServerTaskPoolSize)

	b := cfg.Broker
	s.reg = registry.New(registry.Options{
		BrokerId:   b.BrokerId,
		BrokerHost: b.BrokerHost,
		RateLimit:  b.RateLimit,
		Sessions:   cs.sessions,
		Notifier:   bus.NewStatusNotifier(cs.bus),
		Async:      func(f func()) { s.events.AddTaskAlways(f) },
	})
	s.router = router.New(b.BrokerId, s.reg, cs.sessions, cs.bus)
	s.dispatcher = dispatch.New(dispatch.Options{
		BrokerId:      b.BrokerId,
		LoginModel:    model,
		SyncMaxCount:  int(cfg.Pipeline.SyncMaxCount),
		Registry:      s.reg,
		Router:        s.router,
		Sessions:      cs.sessions,
		Offline:       cs.offline,
		Bus:           cs.bus,
		Authenticator: authenticator,
		Authorizer:    newAuthorizer(cfg.Auth),
	})
	s.consumer = pipeline.NewConsumer(&pipeline.Deps{
		Router:    s.router,
		Pool:      s.workers,
		Sequencer: cs.seq,
		Dedup:     cs.dedup,
		Offline:   cs.offline,
		History:   cs.history,
		Members:   cs.members,
		Callback:  newCallback(cfg.Auth),
		Keys:      cs.keys,
	})
	return s, nil
}

func newAuthorizer(cfg config.Auth) auth.Authorizer {
	if cfg.AuthorizeUrl == "" {
		return auth.AllowAll()
	}
	return auth.NewHTTPAuthorizer(cfg.AuthorizeUrl, time.Duration(cfg.AuthTimeout)*time.Millisecond)
}

func newCallback(cfg config.Auth) auth.Callback {
	if !cfg.CallbackEnable {
		return auth.NoopCallback()
	}
	return auth.NewHTTPCallback(cfg.BeforeSendUrl, cfg.AfterSendUrl, time.Duration(cfg.AuthTimeout)*time.Millisecond)
}

// Start 订阅总线、启动定时任务并开始监听
func (s *Server) Start(ctx context.Context) error {
	// 防止重复启动
	if !s.running.CAS(false, true) {
		return ErrServerRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.cs.bus.SubscribeBroker(ctx, s.cfg.Broker.BrokerId, s.router.Deliver); err != nil {
		return err
	}
	if err := s.consumer.Start(ctx, s.cs.bus); err != nil {
		return err
	}
	if err := s.startCron(); err != nil {
		return err
	}
	if err := s.listen(); err != nil {
		return err
	}
	logger.Logger.Infof("broker %s started, tcp %s, ws %s%s",
		s.cfg.Broker.BrokerId, s.cfg.Broker.TcpAddr, s.cfg.Broker.WsAddr, s.cfg.Broker.WsPath)
	return nil
}

// Close 先停止接入，再关闭连接、协程池和存储
func (s *Server) Close() {
	if !s.running.CAS(true, false) {
		s.release()
		return
	}
	for _, sev := range s.servers {
		sev.Close()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	// 会话标记离线，其它 broker 不再向这里转发
	s.reg.Range(func(c *registry.Connection) bool {
		if err := s.reg.SetOffline(context.Background(), c); err != nil {
			logger.Logger.Errorf("set offline %s: %v", c, err)
		}
		return true
	})
	if s.cancel != nil {
		s.cancel()
	}
	s.release()
	logger.Logger.Infof("broker %s stopped", s.cfg.Broker.BrokerId)
}

func (s *Server) release() {
	s.released.Do(func() {
		s.workers.Release()
		s.events.Close()
		s.cs.close()
	})
}

func (s *Server) Registry() *registry.Registry {
	return s.reg
}

func (s *Server) Router() *router.Router {
	return s.router
}

func (s *Server) Sessions() store.SessionStore {
	return s.cs.sessions
}

// Stats 运行状态
type Stats struct {
	BrokerId       string `json:"brokerId"`
	Connections    int    `json:"connections"`
	Bound          int    `json:"bound"`
	WorkersRunning int    `json:"workersRunning"`
	WorkersCap     int    `json:"workersCap"`
}

func (s *Server) Stats() Stats {
	total, bound := s.reg.Count()
	return Stats{
		BrokerId:       s.cfg.Broker.BrokerId,
		Connections:    total,
		Bound:          bound,
		WorkersRunning: s.workers.Running(),
		WorkersCap:     s.workers.Cap(),
	}
}
