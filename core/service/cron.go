package service

import (
	"gitee.com/Ljolan/si-im/core/consts"
	"gitee.com/Ljolan/si-im/logger"
	"gitee.com/Ljolan/si-im/utils/runtimex"
	"github.com/robfig/cron/v3"
)

func (s *Server) startCron() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(consts.StatsSpec, s.logStats); err != nil {
		return err
	}
	if s.cs.memDedup != nil {
		if _, err := s.cron.AddFunc(consts.PurgeSpec, s.purge); err != nil {
			return err
		}
	}
	if s.cs.lease != nil {
		if _, err := s.cron.AddFunc(consts.NodeRefreshSpec, s.refreshNode); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

func (s *Server) logStats() {
	defer runtimex.Recover()
	st := s.Stats()
	logger.Logger.Infof("stats: connections=%d bound=%d workers=%d/%d",
		st.Connections, st.Bound, st.WorkersRunning, st.WorkersCap)
}

func (s *Server) purge() {
	defer runtimex.Recover()
	if n := s.cs.memDedup.Purge(); n > 0 {
		logger.Logger.Debugf("purged %d expired dedup entries", n)
	}
}

func (s *Server) refreshNode() {
	defer runtimex.Recover()
	if err := s.cs.lease.Refresh(); err != nil {
		logger.Logger.Errorf("refresh key node %d: %v", s.cs.lease.Node(), err)
	}
}
