package cli

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"gitee.com/Ljolan/si-im/admin"
	"gitee.com/Ljolan/si-im/config"
	"gitee.com/Ljolan/si-im/core/service"
	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/utils"
)

var once sync.Once

// Start 读取配置、启动 broker，收到退出信号后优雅关闭
func Start() {
	once.Do(func() {
		// 配置初始化
		cfg, err := config.Init("")
		utils.MustPanic(err)
		utils.MustPanic(config.Configure(cfg, os.Args[1:]))
		cfg.SetDefaults()
		utils.MustPanic(cfg.Validate())

		// 日志初始化
		logger.LogInit(cfg.Log.Level)
		logger.Logger.Infof("config: %s", cfg)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		svr, adm, err := brokerInitAndRun(ctx, cfg)
		utils.MustPanic(err)

		sig := waitSignal()
		logger.Logger.Infof("服务停止：Existing due to trapped signal; %v", sig)

		if adm != nil {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			if err = adm.Stop(stopCtx); err != nil {
				logger.Logger.Errorf("admin stop: %v", err)
			}
			stop()
		}
		svr.Close()
		_ = logger.Logger.Close()
	})
}

// broker 初始化
func brokerInitAndRun(ctx context.Context, cfg *config.SIConfig) (*service.Server, *admin.Server, error) {
	svr, err := service.NewServer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err = svr.Start(ctx); err != nil {
		svr.Close()
		return nil, nil, err
	}

	var adm *admin.Server
	if cfg.Admin.Open {
		adm = admin.New(svr)
		adm.Start(cfg.Admin.Addr)
	}
	pprof(cfg.PProf.Open, int(cfg.PProf.Port))
	return svr, adm, nil
}

func waitSignal() os.Signal {
	signChan := make(chan os.Signal, 1)
	signal.Notify(signChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	return <-signChan
}

func pprof(open bool, port int) {
	// 性能分析
	if open {
		go func() {
			// go tool pprof -http=:8000 http://localhost:6060/debug/pprof/heap    查看内存使用
			// go tool pprof -http=:8000 http://localhost:6060/debug/pprof/profile 查看cpu占用
			logger.Logger.Info(http.ListenAndServe(":"+strconv.Itoa(port), nil).Error())
		}()
	}
}
