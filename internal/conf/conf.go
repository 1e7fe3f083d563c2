package conf

import "time"

// Duration 配置中的时长类型（如 "5s"、"1h"），通过 kratos config 从 yaml 解析
type Duration string

// AsDuration 解析时长，解析失败或为空时返回 0
func (d Duration) AsDuration() time.Duration {
	if d == "" {
		return 0
	}
	v, err := time.ParseDuration(string(d))
	if err != nil {
		return 0
	}
	return v
}

// Bootstrap 启动配置
type Bootstrap struct {
	Server  *Server  `json:"server"`
	Data    *Data    `json:"data"`
	Payment *Payment `json:"payment"`
}

// Server 服务器配置
type Server struct {
	Http *HTTP `json:"http"`
}

// HTTP HTTP 服务器配置
type HTTP struct {
	Network string   `json:"network"`
	Addr    string   `json:"addr"`
	Timeout Duration `json:"timeout"`
}

// Data 数据层配置
type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
	Rocketmq *Rocketmq `json:"rocketmq"`
}

// Database 数据库配置
type Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

// Redis Redis 配置
type Redis struct {
	Addr         string   `json:"addr"`
	Password     string   `json:"password"`
	Db           int      `json:"db"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
}

// Rocketmq RocketMQ 配置（webhook 重试队列）
type Rocketmq struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	Topic       string   `json:"topic"`
	GroupName   string   `json:"group_name"`
	RetryTimes  int32    `json:"retry_times"`
}

// Payment 支付核心配置
type Payment struct {
	// Mode 运行模式：production / development
	// development 模式下请求签名校验只记录日志不拦截
	Mode         string      `json:"mode"`
	TaxRate      float64     `json:"tax_rate"`
	Currency     string      `json:"currency"`
	ServerSecret string      `json:"server_secret"`
	Signing      *Signing    `json:"signing"`
	Csrf         *Csrf       `json:"csrf"`
	Webhook      *Webhook    `json:"webhook"`
	Vault        *Vault      `json:"vault"`
	Fraud        *Fraud      `json:"fraud"`
	Monitor      *Monitor    `json:"monitor"`
	Audit        *Audit      `json:"audit"`
	Compliance   *Compliance `json:"compliance"`
	Provider     *Provider   `json:"provider"`
	Ratelimit    *Ratelimit  `json:"ratelimit"`
}

// Signing 请求签名配置
type Signing struct {
	Secret    string   `json:"secret"`
	Tolerance Duration `json:"tolerance"`
}

// Csrf CSRF 令牌配置
type Csrf struct {
	Ttl        Duration `json:"ttl"`
	PerIpLimit int      `json:"per_ip_limit"`
}

// Webhook webhook 安全与重试配置
type Webhook struct {
	// Secrets 支持多个并存的签名密钥（密钥轮换期间新旧同时生效）
	Secrets           []string `json:"secrets"`
	Tolerance         Duration `json:"tolerance"`
	MaxRetryAttempts  int      `json:"max_retry_attempts"`
	BackoffSeconds    []int    `json:"backoff_seconds"`
	IdempotencyWindow Duration `json:"idempotency_window"`
	LedgerRetention   Duration `json:"ledger_retention"`
}

// Vault 支付令牌保险库配置
type Vault struct {
	MasterKey        string   `json:"master_key"`
	TokenTtl         Duration `json:"token_ttl"`
	Pbkdf2Iterations int      `json:"pbkdf2_iterations"`
}

// Fraud 风控配置
type Fraud struct {
	MaxAmount      float64  `json:"max_amount"`
	VelocityLimit  int      `json:"velocity_limit"`
	VelocityWindow Duration `json:"velocity_window"`
}

// Monitor 支付监控阈值配置
type Monitor struct {
	VolumePerMinute      int      `json:"volume_per_minute"`
	MaxPaymentValue      float64  `json:"max_payment_value"`
	FailureRateThreshold float64  `json:"failure_rate_threshold"`
	SlowResponseTime     Duration `json:"slow_response_time"`
}

// Audit 审计日志配置
type Audit struct {
	Dir        string `json:"dir"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Compliance PCI 合规日志扫描配置
type Compliance struct {
	LogGlobs []string `json:"log_globs"`
}

// Provider 外部支付处理方配置
type Provider struct {
	Name     string   `json:"name"`
	Endpoint string   `json:"endpoint"`
	ApiKey   string   `json:"api_key"`
	Timeout  Duration `json:"timeout"`
}

// Ratelimit 公开校验接口的按 IP 限流配置
type Ratelimit struct {
	Requests int      `json:"requests"`
	Window   Duration `json:"window"`
}
