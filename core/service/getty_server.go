package service

import (
	"context"
	"fmt"
	"time"

	"gitee.com/Ljolan/si-im/core/codec"
	"gitee.com/Ljolan/si-im/core/message"
	"gitee.com/Ljolan/si-im/core/registry"
	"gitee.com/Ljolan/si-im/logger"
	getty "github.com/apache/dubbo-getty"
)

const ConnAttr = "_ConnAttr_"

// listen 启动 TCP 与 WebSocket 接入。
// 不设置 getty 的任务池，同一连接的报文在该连接的读协程里顺序处理
func (s *Server) listen() error {
	getty.SetLogger(logger.Logger)

	b := s.cfg.Broker
	tcp := getty.NewTCPServer(getty.WithLocalAddress(b.TcpAddr))
	if err := runEventLoop(tcp, s.newSession(&codec.TCPPkgHandler{MaxMsgLen: b.MaxMsgLen})); err != nil {
		return err
	}
	s.servers = append(s.servers, tcp)

	if b.WsAddr == "" {
		return nil
	}
	ws := getty.NewWSServer(getty.WithLocalAddress(b.WsAddr), getty.WithWebsocketServerPath(b.WsPath))
	if err := runEventLoop(ws, s.newSession(&codec.WSPkgHandler{})); err != nil {
		return err
	}
	s.servers = append(s.servers, ws)
	return nil
}

// runEventLoop getty 监听失败时直接 panic，这里转换为错误返回
func runEventLoop(sev getty.Server, cb getty.NewSessionCallback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service: listen: %v", r)
		}
	}()
	sev.RunEventLoop(cb)
	return nil
}

func (s *Server) newSession(h getty.ReadWriter) getty.NewSessionCallback {
	b := s.cfg.Broker
	return func(session getty.Session) error {
		session.SetName("si-im")
		session.SetMaxMsgLen(b.MaxMsgLen)
		session.SetPkgHandler(h)
		session.SetEventListener(s)
		session.SetReadTimeout(time.Second * time.Duration(b.ReadTimeout))
		session.SetWriteTimeout(time.Second * time.Duration(b.WriteTimeout))
		session.SetCronPeriod(b.CronPeriod) // 单位millisecond
		return nil
	}
}

// gettyTransport 把 getty.Session 适配为注册表使用的连接
type gettyTransport struct {
	session getty.Session
	timeout time.Duration
}

func (t *gettyTransport) WritePack(p *message.MessagePack) error {
	_, _, err := t.session.WritePkg(p, t.timeout)
	return err
}

func (t *gettyTransport) Close() {
	t.session.Close()
}

func (t *gettyTransport) IsClosed() bool {
	return t.session.IsClosed()
}

func (t *gettyTransport) RemoteAddr() string {
	return t.session.RemoteAddr()
}

func connOf(session getty.Session) *registry.Connection {
	c, _ := session.GetAttribute(ConnAttr).(*registry.Connection)
	return c
}

func (s *Server) OnOpen(session getty.Session) error {
	c := s.reg.Add(&gettyTransport{
		session: session,
		timeout: time.Second * time.Duration(s.cfg.Broker.WriteTimeout),
	})
	session.SetAttribute(ConnAttr, c)
	logger.Logger.Debugf("open %s", c)
	return nil
}

func (s *Server) OnError(session getty.Session, err error) {
	// 出错处理，解码失败等错误之后 getty 会关闭连接
	logger.Logger.Errorf("(%v) %s, error: %s.", connOf(session), session.Stat(), err.Error())
}

func (s *Server) OnClose(session getty.Session) {
	// session 断线处理
	c := connOf(session)
	if c == nil {
		return
	}
	s.offline(c)
}

func (s *Server) OnMessage(session getty.Session, pkg interface{}) {
	c := connOf(session)
	if c == nil {
		logger.Logger.Warnf("message on unknown session %s", session.Stat())
		return
	}
	msg, ok := pkg.(*message.Message)
	if !ok {
		logger.Logger.Warnf("unexpected package %T from %s", pkg, c)
		return
	}
	s.dispatcher.Dispatch(context.Background(), c, msg)
}

func (s *Server) OnCron(session getty.Session) {
	c := connOf(session)
	if c == nil {
		return
	}
	s.checkIdle(c, time.Now())
}

// checkIdle 超过心跳时间没有收到任何报文，判定离线并断开
func (s *Server) checkIdle(c *registry.Connection, now time.Time) bool {
	if !c.Idle(time.Second*time.Duration(s.cfg.Broker.HeartbeatTimeout), now) {
		return false
	}
	logger.Logger.Infof("%s heartbeat timeout, last read at %s", c, c.LastRead().Format(time.RFC3339))
	s.offline(c)
	return true
}

func (s *Server) offline(c *registry.Connection) {
	if err := s.reg.SetOffline(context.Background(), c); err != nil {
		logger.Logger.Errorf("set offline %s: %v", c, err)
	}
}
