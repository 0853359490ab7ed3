package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	OSS       OSSConfig       `mapstructure:"oss"`
	Github    GithubConfig    `mapstructure:"github"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Upload    UploadConfig    `mapstructure:"upload"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// AnalysisConfig 分析流水线参数
type AnalysisConfig struct {
	WorkspaceDir        string         `mapstructure:"workspace_dir"`         // 克隆工作区根目录
	OutputDir           string         `mapstructure:"output_dir"`            // 文档输出根目录
	MaxFileSize         int64          `mapstructure:"max_file_size"`         // 单文件大小上限（字节）
	IgnorePatterns      []string       `mapstructure:"ignore_patterns"`       // gitignore 语法
	ExtractWorkers      int            `mapstructure:"extract_workers"`       // 0 表示 CPU 核数
	FileTimeoutSeconds  int            `mapstructure:"file_timeout_seconds"`  // 单文件解析超时
	CloneTimeoutSeconds int            `mapstructure:"clone_timeout_seconds"` // 克隆超时
	MaxEnrichedFiles    int            `mapstructure:"max_enriched_files"`    // 调用模型的文件数上限
	RetentionHours      int            `mapstructure:"retention_hours"`       // 任务记录保留时间
	Ranking             RankingWeights `mapstructure:"ranking"`
}

type RankingWeights struct {
	Endpoint int `mapstructure:"endpoint"`
	Function int `mapstructure:"function"`
	PathRole int `mapstructure:"path_role"`
}

// LLMConfig 模型服务配置
type LLMConfig struct {
	BaseURL           string   `mapstructure:"base_url"`
	Model             string   `mapstructure:"model"`
	APIKeys           []string `mapstructure:"api_keys"`
	RequestsPerWindow int      `mapstructure:"requests_per_window"`
	WindowSeconds     int      `mapstructure:"window_seconds"`
	MaxAttempts       int      `mapstructure:"max_attempts"`
	BaseDelayMs       int      `mapstructure:"base_delay_ms"`
	MaxDelayMs        int      `mapstructure:"max_delay_ms"`
	MaxTokens         int      `mapstructure:"max_tokens"`
	Temperature       float64  `mapstructure:"temperature"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql 或 sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type QueueConfig struct {
	Mode          string `mapstructure:"mode"` // local 或 redis
	AnalysisQueue string `mapstructure:"analysis_queue"`
	MaxWorkers    int    `mapstructure:"max_workers"`
	Backlog       int    `mapstructure:"backlog"`
}

type OSSConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
	Prefix          string `mapstructure:"prefix"`
}

// GithubConfig 仓库元信息查询
type GithubConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`           // 最大文件大小（字节）
	TempDir           string   `mapstructure:"temp_dir"`           // 临时目录
	AllowedExtensions []string `mapstructure:"allowed_extensions"` // 允许的扩展名
}

// RateLimitConfig 提交接口限流（按客户端 IP）
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("analysis.workspace_dir", filepath.Join(os.TempDir(), "docgen_workspace"))
	v.SetDefault("analysis.output_dir", "generated_docs")
	v.SetDefault("analysis.max_file_size", 100*1024)
	v.SetDefault("analysis.extract_workers", 0)
	v.SetDefault("analysis.file_timeout_seconds", 10)
	v.SetDefault("analysis.clone_timeout_seconds", 120)
	v.SetDefault("analysis.max_enriched_files", 5)
	v.SetDefault("analysis.retention_hours", 24)
	v.SetDefault("analysis.ranking.endpoint", 10)
	v.SetDefault("analysis.ranking.function", 2)
	v.SetDefault("analysis.ranking.path_role", 1)

	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1/chat/completions")
	v.SetDefault("llm.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.requests_per_window", 15)
	v.SetDefault("llm.window_seconds", 60)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.base_delay_ms", 2000)
	v.SetDefault("llm.max_delay_ms", 60000)
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout_seconds", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.database", "docgen.db")
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("queue.mode", "local")
	v.SetDefault("queue.analysis_queue", "docgen:analysis_queue")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("queue.backlog", 64)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization"})
	v.SetDefault("upload.max_size", 50*1024*1024)
	v.SetDefault("upload.temp_dir", filepath.Join(os.TempDir(), "docgen_uploads"))
	v.SetDefault("upload.allowed_extensions", []string{".zip"})
	v.SetDefault("ratelimit.requests_per_second", 1)
	v.SetDefault("ratelimit.burst", 5)
}

// 兼容部署脚本中使用的环境变量名
var envAliases = map[string]string{
	"llm.api_keys":                "GROQ_API_KEYS",
	"llm.requests_per_window":     "LLM_REQUESTS_PER_WINDOW",
	"analysis.max_enriched_files": "ANALYSIS_MAX_ENRICHED_FILES",
	"analysis.output_dir":         "OUTPUT_DIR",
	"github.token":                "GITHUB_TOKEN",
}

// Load 读取配置文件，文件不存在时仅使用默认值与环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); !os.IsNotExist(statErr) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// 环境变量传入的逗号分隔列表
	cfg.LLM.APIKeys = splitList(cfg.LLM.APIKeys)

	return &cfg, nil
}

func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
