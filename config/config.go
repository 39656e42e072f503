package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strings"

	"gitee.com/Ljolan/si-im/config/env"
	"gitee.com/Ljolan/si-im/core/consts"
	"gitee.com/Ljolan/si-im/utils"
	"github.com/BurntSushi/toml"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/google/uuid"
)

type (
	StoreModel = string
	BusModel   = string
)

const (
	RedisStore StoreModel = "redis"
	MemStore   StoreModel = "mem"
	MysqlStore StoreModel = "mysql"
	MongoStore StoreModel = "mongo"

	RedisBus BusModel = "redis"
	MemBus   BusModel = "mem"
)

type SIConfig struct {
	ServerVersion string   `toml:"serverVersion"`
	Log           Log      `toml:"log"`
	Broker        Broker   `toml:"broker"`
	Pipeline      Pipeline `toml:"pipeline"`
	Auth          Auth     `toml:"auth"`
	Store         Store    `toml:"store"`
	Bus           Bus      `toml:"bus"`
	Admin         Admin    `toml:"admin"`
	PProf         PProf    `toml:"pprof"`
}

type Log struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
}

type PProf struct {
	Open bool  `toml:"open"`
	Port int64 `toml:"port"`
}

type Broker struct {
	BrokerId   string `toml:"brokerId" validate:"required"`
	BrokerHost string `toml:"brokerHost"`
	// 消息 key 的节点号，0 表示自动分配（有 redis 时租约领取，否则用 0），同时在线的 broker 不能重复
	NodeId int `toml:"nodeId" validate:"gte=0,lte=31"`

	TcpAddr string `toml:"tcpAddr" validate:"required"`
	WsAddr  string `toml:"wsAddr"`
	WsPath  string `toml:"wsPath" validate:"required_with=WsAddr"`

	ServerTaskPoolSize int `toml:"serverTaskPoolSize" validate:"gt=0"`
	ReadTimeout        int `toml:"readTimeout" validate:"gt=0"`      // s
	WriteTimeout       int `toml:"writeTimeout" validate:"gt=0"`     // s
	HeartbeatTimeout   int `toml:"heartbeatTimeout" validate:"gt=0"` // s
	CronPeriod         int `toml:"cronPeriod" validate:"gt=0"`       // ms
	MaxMsgLen          int `toml:"maxMsgLen" validate:"gt=28"`

	LoginModel string `toml:"loginModel" validate:"oneof=single dual triple unrestricted"`
	RateLimit  int    `toml:"rateLimit" validate:"gte=0"` // 0 表示不限制
}

type Pipeline struct {
	WorkerPoolSize  int   `toml:"workerPoolSize" validate:"gt=0"`
	DedupTTL        int64 `toml:"dedupTtl" validate:"gt=0"` // s
	OfflineMaxCount int64 `toml:"offlineMaxCount" validate:"gt=0"`
	SyncMaxCount    int64 `toml:"syncMaxCount" validate:"gt=0"`
}

type Auth struct {
	AuthorizeUrl   string `toml:"authorizeUrl" validate:"omitempty,url"`
	AuthTimeout    int    `toml:"authTimeout" validate:"gt=0"` // ms
	BeforeSendUrl  string `toml:"beforeSendUrl" validate:"omitempty,url"`
	AfterSendUrl   string `toml:"afterSendUrl" validate:"omitempty,url"`
	CallbackEnable bool   `toml:"callbackEnable"`
}

type Redis struct {
	Source   string `toml:"source"`
	Password string `toml:"password"`
	Db       int    `toml:"db"`
	PoolSize int    `toml:"poolSize"`
}

type Mysql struct {
	Source   string `toml:"source"`
	PoolSize int    `toml:"poolSize"`
}

type Mongo struct {
	Source          string `toml:"source"`
	Database        string `toml:"database"`
	MinPoolSize     uint64 `toml:"minPool"`
	MaxPoolSize     uint64 `toml:"maxPool"`
	MaxConnIdleTime uint64 `toml:"maxConnIdleTime"`
}

type Store struct {
	Model        StoreModel `toml:"model" validate:"oneof=redis mem"`
	HistoryModel StoreModel `toml:"historyModel" validate:"oneof=mysql mongo mem"`
	GroupModel   StoreModel `toml:"groupModel" validate:"oneof=mysql mem"`
	Redis        Redis      `toml:"redis"`
	Mysql        Mysql      `toml:"mysql"`
	Mongo        Mongo      `toml:"mongo"`
}

type Bus struct {
	Model BusModel `toml:"model" validate:"oneof=redis mem"`
}

type Admin struct {
	Open bool   `toml:"open"`
	Addr string `toml:"addr"`
}

func (cfg *SIConfig) String() string {
	b, err := json.Marshal(*cfg)
	if err != nil {
		return fmt.Sprintf("%+v", *cfg)
	}
	var out bytes.Buffer
	err = json.Indent(&out, b, "", "    ")
	if err != nil {
		return fmt.Sprintf("%+v", *cfg)
	}
	return out.String()
}

// Init 读取配置文件；path 为空时按环境变量 SI_CFG_PATH / CFG_NAME 查找
func Init(path string) (*SIConfig, error) {
	if path == "" {
		name, _ := env.GetEnv(env.SICfgName)
		dir, ok := env.GetEnv(env.SICfgPath)
		if !ok {
			dir = utils.GetCurrentDirectory()
		}
		path = utils.GetConfigPath(dir, name)
	}
	cfg := &SIConfig{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Parse 从 toml 文本解析，测试和内嵌配置使用
func Parse(text string) (*SIConfig, error) {
	cfg := &SIConfig{}
	if _, err := toml.Decode(text, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults 填充未配置的字段
func (cfg *SIConfig) SetDefaults() {
	b := &cfg.Broker
	if b.BrokerId == "" {
		b.BrokerId = uuid.NewString()
	}
	if b.TcpAddr == "" {
		b.TcpAddr = consts.TcpAddr
	}
	if b.WsAddr != "" && b.WsPath == "" {
		b.WsPath = consts.WsPath
	}
	if b.ServerTaskPoolSize == 0 {
		b.ServerTaskPoolSize = consts.ServerTaskPoolSize
	}
	if b.ReadTimeout == 0 {
		b.ReadTimeout = consts.ReadTimeout
	}
	if b.WriteTimeout == 0 {
		b.WriteTimeout = consts.WriteTimeout
	}
	if b.HeartbeatTimeout == 0 {
		b.HeartbeatTimeout = consts.HeartbeatTimeout
	}
	if b.CronPeriod == 0 {
		b.CronPeriod = consts.CronPeriod
	}
	if b.MaxMsgLen == 0 {
		b.MaxMsgLen = consts.MaxMsgLen
	}
	if b.LoginModel == "" {
		b.LoginModel = consts.LoginModel
	}

	p := &cfg.Pipeline
	if p.WorkerPoolSize == 0 {
		p.WorkerPoolSize = consts.WorkerPoolSize
	}
	if p.DedupTTL == 0 {
		p.DedupTTL = consts.DedupTTL
	}
	if p.OfflineMaxCount == 0 {
		p.OfflineMaxCount = consts.OfflineMaxCount
	}
	if p.SyncMaxCount == 0 {
		p.SyncMaxCount = consts.SyncMaxCount
	}
	if cfg.Auth.AuthTimeout == 0 {
		cfg.Auth.AuthTimeout = consts.AuthTimeout
	}

	s := &cfg.Store
	if s.Model == "" {
		s.Model = MemStore
	}
	if s.HistoryModel == "" {
		s.HistoryModel = MemStore
	}
	if s.GroupModel == "" {
		s.GroupModel = MemStore
	}
	if s.Redis.PoolSize == 0 {
		s.Redis.PoolSize = consts.RedisPoolSize
	}
	if s.Mysql.PoolSize == 0 {
		s.Mysql.PoolSize = consts.MysqlPoolSize
	}
	if s.Mongo.Database == "" {
		s.Mongo.Database = "si_im"
	}
	if cfg.Bus.Model == "" {
		cfg.Bus.Model = MemBus
	}
	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = consts.AdminAdr
	}
}

// Validate 校验配置，错误信息翻译为英文可读文本
func (cfg *SIConfig) Validate() error {
	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("en")

	validate := validator.New()
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return err
	}
	err := validate.Struct(cfg)
	if err == nil {
		return cfg.checkDependencies()
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Namespace()+": "+e.Translate(trans))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func (cfg *SIConfig) checkDependencies() error {
	if (cfg.Store.Model == RedisStore || cfg.Bus.Model == RedisBus) && cfg.Store.Redis.Source == "" {
		return errors.New("config: store.redis.source is required when redis store or bus is used")
	}
	if (cfg.Store.HistoryModel == MysqlStore || cfg.Store.GroupModel == MysqlStore) && cfg.Store.Mysql.Source == "" {
		return errors.New("config: store.mysql.source is required when mysql is used")
	}
	if cfg.Store.HistoryModel == MongoStore && cfg.Store.Mongo.Source == "" {
		return errors.New("config: store.mongo.source is required when mongo is used")
	}
	return nil
}

// Configure 命令行参数覆盖配置文件
func Configure(cfg *SIConfig, args []string) error {
	fs := flag.NewFlagSet("si_im", flag.ContinueOnError)

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level.")

	fs.StringVar(&cfg.Broker.BrokerId, "broker-id", cfg.Broker.BrokerId, "unique id of this broker, used as bus routing key.")
	fs.IntVar(&cfg.Broker.NodeId, "node-id", cfg.Broker.NodeId, "message key node id 1-31, 0 to lease one from redis.")
	fs.StringVar(&cfg.Broker.BrokerHost, "broker-host", cfg.Broker.BrokerHost, "advertised host of this broker.")
	fs.StringVar(&cfg.Broker.TcpAddr, "tcp-addr", cfg.Broker.TcpAddr, "tcp addr to listen on. eg. ':9000'")
	fs.StringVar(&cfg.Broker.WsAddr, "ws-addr", cfg.Broker.WsAddr, "websocket addr, eg. ':19000'")
	fs.StringVar(&cfg.Broker.WsPath, "ws-path", cfg.Broker.WsPath, "websocket path. e.g., \"/ws\"")
	fs.IntVar(&cfg.Broker.HeartbeatTimeout, "heartbeat-timeout", cfg.Broker.HeartbeatTimeout, "heartbeat timeout (sec)")
	fs.StringVar(&cfg.Broker.LoginModel, "login-model", cfg.Broker.LoginModel, "multi device login model: single|dual|triple|unrestricted")

	fs.IntVar(&cfg.Pipeline.WorkerPoolSize, "worker-pool", cfg.Pipeline.WorkerPoolSize, "business worker pool size")

	fs.StringVar(&cfg.Store.Model, "store", cfg.Store.Model, "session/sequence/cache store: redis|mem")
	fs.StringVar(&cfg.Store.Redis.Source, "redis-source", cfg.Store.Redis.Source, "Redis connect source")
	fs.IntVar(&cfg.Store.Redis.PoolSize, "redis-pool", cfg.Store.Redis.PoolSize, "Redis connect pool size")
	fs.IntVar(&cfg.Store.Redis.Db, "redis-db", cfg.Store.Redis.Db, "Redis db")
	fs.StringVar(&cfg.Store.Mysql.Source, "mysql-source", cfg.Store.Mysql.Source, "Mysql connect source")
	fs.StringVar(&cfg.Bus.Model, "bus", cfg.Bus.Model, "message bus: redis|mem")

	return fs.Parse(args)
}
