package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	MinIO       MinIOConfig     `yaml:"minio"`
	NATS        NATSConfig      `yaml:"nats"`
	Models      ModelsConfig    `yaml:"models"`
	Detection   DetectionConfig `yaml:"detection"`
	WebRTC      WebRTCConfig    `yaml:"webrtc"`
	Auth        AuthConfig      `yaml:"auth"`
	Telegram    TelegramConfig  `yaml:"telegram"`
	Logging     LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type ModelsConfig struct {
	YOLOPath    string `yaml:"yolo_path"`
	PosePath    string `yaml:"pose_path"`
	AnomalyPath string `yaml:"anomaly_path"`
	Device      string `yaml:"device"`
}

type DetectionConfig struct {
	PersonConfidence float64 `yaml:"person_confidence"`
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`
	SequenceLength   int     `yaml:"sequence_length"`
	HighCut          float64 `yaml:"high_cut"`
	MediumCut        float64 `yaml:"medium_cut"`
	TrackerMaxAge    int     `yaml:"tracker_max_age"`
	TrackerIoU       float64 `yaml:"tracker_iou"`
}

type WebRTCConfig struct {
	STUNServers  []string `yaml:"stun_servers"`
	OfferTimeout int      `yaml:"offer_timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type TelegramConfig struct {
	BotToken    string `yaml:"bot_token"`
	BotUsername string `yaml:"bot_username"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file and applies environment variable
// overrides. The file is optional; environment variables alone are enough.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
		// fall through to env + defaults
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Models.YOLOPath == "" {
		cfg.Models.YOLOPath = "models/yolov8n.onnx"
	}
	if cfg.Models.PosePath == "" {
		cfg.Models.PosePath = "models/yolov8n-pose.onnx"
	}
	if cfg.Models.AnomalyPath == "" {
		cfg.Models.AnomalyPath = "models/stg_nf.onnx"
	}
	if cfg.Models.Device == "" {
		cfg.Models.Device = "cpu"
	}
	if cfg.Detection.PersonConfidence == 0 {
		cfg.Detection.PersonConfidence = 0.45
	}
	if cfg.Detection.SequenceLength == 0 {
		cfg.Detection.SequenceLength = 24
	}
	if cfg.Detection.HighCut == 0 {
		cfg.Detection.HighCut = 3.0
	}
	if cfg.Detection.MediumCut == 0 {
		cfg.Detection.MediumCut = 2.0
	}
	if cfg.Detection.TrackerMaxAge == 0 {
		cfg.Detection.TrackerMaxAge = 30
	}
	if cfg.Detection.TrackerIoU == 0 {
		cfg.Detection.TrackerIoU = 0.3
	}
	if len(cfg.WebRTC.STUNServers) == 0 {
		cfg.WebRTC.STUNServers = []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		}
	}
	if cfg.WebRTC.OfferTimeout == 0 {
		cfg.WebRTC.OfferTimeout = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = strings.ToLower(v)
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("YOLO_MODEL_PATH"); v != "" {
		cfg.Models.YOLOPath = v
	}
	if v := os.Getenv("POSE_MODEL_PATH"); v != "" {
		cfg.Models.PosePath = v
	}
	if v := os.Getenv("ANOMALY_MODEL_PATH"); v != "" {
		cfg.Models.AnomalyPath = v
	}
	if v := os.Getenv("DEVICE"); v != "" {
		cfg.Models.Device = v
	}
	if v := os.Getenv("PERSON_DETECTION_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.PersonConfidence = f
		}
	}
	if v := os.Getenv("ANOMALY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.AnomalyThreshold = f
		}
	}
	if v := os.Getenv("SEQUENCE_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.SequenceLength = n
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_BOT_USERNAME"); v != "" {
		cfg.Telegram.BotUsername = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
