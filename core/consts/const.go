package consts

import "time"

// 服务端默认值，配置缺省时使用
const (
	TcpAddr  = ":9000"
	WsPath   = "/ws"
	AdminAdr = ":8080"

	ServerTaskPoolSize = 256
	ReadTimeout        = 60  // s
	WriteTimeout       = 10  // s
	HeartbeatTimeout   = 300 // s，超过该时间没有收到任何数据则判定离线
	CronPeriod         = 1000
	MaxMsgLen          = 4 << 20

	LoginModel = "single"

	WorkerPoolSize  = 512
	DedupTTL        = 300 // s
	OfflineMaxCount = 1000
	AuthTimeout     = 1500 // ms
	SyncMaxCount    = 100

	RedisPoolSize = 16
	MysqlPoolSize = 16
)

const (
	StatsSpec = "@every 1m"
	PurgeSpec = "@every 30s"

	BusBlockTimeout = time.Second

	// 节点号租约，续约间隔要明显小于 TTL
	NodeLeaseTTL    = 30 * time.Second
	NodeRefreshSpec = "@every 10s"
)
