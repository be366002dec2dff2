package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix ist das Präfix für Umgebungsvariablen, z.B. CROWDSCOPE_SERVER_PORT
const EnvPrefix = "CROWDSCOPE"

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Density    DensityConfig    `mapstructure:"density"`
	Heatmap    HeatmapConfig    `mapstructure:"heatmap"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	Processing ProcessingConfig `mapstructure:"processing"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	DataDir      string `mapstructure:"data_dir"`
	Timezone     string `mapstructure:"timezone"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbank-Einstellungen
type DBConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // sqlite oder postgres
	File    string `mapstructure:"file"`   // sqlite
	DSN     string `mapstructure:"dsn"`    // postgres
}

// DetectorConfig wählt und konfiguriert die Personenerkennung
type DetectorConfig struct {
	Method           string        `mapstructure:"method"` // yolo oder cascade
	PoolSize         int           `mapstructure:"pool_size"`
	TolerateFailures bool          `mapstructure:"tolerate_failures"`
	Parallel         bool          `mapstructure:"parallel"`
	YOLO             YOLOConfig    `mapstructure:"yolo"`
	Cascade          CascadeConfig `mapstructure:"cascade"`
	Dedup            DedupConfig   `mapstructure:"dedup"`
}

// YOLOConfig enthält Einstellungen für den YOLO-Objektdetektor
type YOLOConfig struct {
	Engine              string  `mapstructure:"engine"` // opencv oder onnxruntime
	ModelPath           string  `mapstructure:"model_path"`
	RuntimeLibrary      string  `mapstructure:"runtime_library"` // Pfad zur onnxruntime-Bibliothek
	InputSize           int     `mapstructure:"input_size"`
	NumClasses          int     `mapstructure:"num_classes"`
	PersonClassID       int     `mapstructure:"person_class_id"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	NMSThreshold        float64 `mapstructure:"nms_threshold"`
	UseGPU              bool    `mapstructure:"use_gpu"`
}

// CascadeConfig enthält die Haar-Kaskaden für Ganzkörper und Oberkörper
type CascadeConfig struct {
	FullBody  CascadePassConfig `mapstructure:"full_body"`
	UpperBody CascadePassConfig `mapstructure:"upper_body"`
}

// CascadePassConfig beschreibt einen Kaskaden-Durchlauf
type CascadePassConfig struct {
	Path          string  `mapstructure:"path"`
	ScaleFactor   float64 `mapstructure:"scale_factor"`
	MinNeighbors  int     `mapstructure:"min_neighbors"`
	MinSizeWidth  int     `mapstructure:"min_size_width"`
	MinSizeHeight int     `mapstructure:"min_size_height"`
	Confidence    float64 `mapstructure:"confidence"`
}

// DedupConfig legt fest, wie Durchläufe zusammengeführt werden
type DedupConfig struct {
	Mode         string  `mapstructure:"mode"` // offset oder iou
	OffsetPixels int     `mapstructure:"offset_pixels"`
	IoUThreshold float64 `mapstructure:"iou_threshold"`
}

// DensityConfig wählt die Dichteformel
type DensityConfig struct {
	Formula string `mapstructure:"formula"` // area_ratio oder count_per_area
}

// HeatmapConfig enthält Einstellungen für die Heatmap
type HeatmapConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Stamp      string  `mapstructure:"stamp"` // disc oder rect
	BlurKernel int     `mapstructure:"blur_kernel"`
	Alpha      float64 `mapstructure:"alpha"`
	Quality    int     `mapstructure:"quality"`
}

// ArtifactsConfig konfiguriert die Ablage der Heatmaps
type ArtifactsConfig struct {
	Backend   string `mapstructure:"backend"` // filesystem oder memory
	Dir       string `mapstructure:"dir"`
	URLPrefix string `mapstructure:"url_prefix"`
	MaxItems  int    `mapstructure:"max_items"` // nur für memory
}

// ProcessingConfig konfiguriert den Worker-Pool
type ProcessingConfig struct {
	Workers int `mapstructure:"workers"` // 0 = aus der CPU-Anzahl abgeleitet
}

// MQTTConfig enthält MQTT-Einstellungen
type MQTTConfig struct {
	Enabled         bool                `mapstructure:"enabled"`
	Broker          string              `mapstructure:"broker"`
	Port            int                 `mapstructure:"port"`
	Username        string              `mapstructure:"username"`
	Password        string              `mapstructure:"password"`
	ClientID        string              `mapstructure:"client_id"`
	TopicPrefix     string              `mapstructure:"topic_prefix"`
	SubscribeFrames bool                `mapstructure:"subscribe_frames"`
	HomeAssistant   HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig enthält Einstellungen für die Home-Assistant-Discovery
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// CleanupConfig enthält Einstellungen für die automatische Bereinigung
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	IntervalHours int `mapstructure:"interval_hours"`
}

// AlertsConfig steuert das Anlegen von Alarmen
type AlertsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	MinLevel string `mapstructure:"min_level"`
}

// Load liest die Konfiguration aus Standardwerten, einer optionalen YAML-Datei und der Umgebung.
// Eine .env-Datei im Arbeitsverzeichnis wird vorher in die Prozessumgebung geladen.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info("Loaded environment from .env")
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Gehostete Postgres-Anbieter übergeben die Verbindungs-URL in DATABASE_URL
	if cfg.DB.DSN == "" {
		if url := firstEnv("DATABASE_URL", "POSTGRES_URL"); url != "" {
			cfg.DB.DSN = url
			if cfg.DB.Driver == "" || cfg.DB.Driver == "sqlite" {
				cfg.DB.Driver = "postgres"
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate prüft Werte, die nicht stillschweigend ersetzt werden dürfen
func (c *Config) Validate() error {
	switch c.Detector.Method {
	case "yolo", "cascade":
	default:
		return fmt.Errorf("unknown detector.method %q", c.Detector.Method)
	}
	switch c.Detector.Dedup.Mode {
	case "offset", "iou":
	default:
		return fmt.Errorf("unknown detector.dedup.mode %q", c.Detector.Dedup.Mode)
	}
	switch c.Density.Formula {
	case "area_ratio", "count_per_area":
	default:
		return fmt.Errorf("unknown density.formula %q", c.Density.Formula)
	}
	switch c.Heatmap.Stamp {
	case "disc", "rect":
	default:
		return fmt.Errorf("unknown heatmap.stamp %q", c.Heatmap.Stamp)
	}
	if c.Heatmap.Alpha <= 0 || c.Heatmap.Alpha >= 1 {
		return fmt.Errorf("heatmap.alpha must be in (0,1), got %v", c.Heatmap.Alpha)
	}
	switch c.Alerts.MinLevel {
	case "low", "medium-low", "medium", "high", "critical":
	default:
		return fmt.Errorf("unknown alerts.min_level %q", c.Alerts.MinLevel)
	}
	switch c.Artifacts.Backend {
	case "filesystem", "memory":
	default:
		return fmt.Errorf("unknown artifacts.backend %q", c.Artifacts.Backend)
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.timezone", "UTC")
	v.SetDefault("server.max_body_bytes", 10<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/crowdscope.log")

	v.SetDefault("db.enabled", true)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.file", "/data/crowdscope.db")
	v.SetDefault("db.dsn", "")

	v.SetDefault("detector.method", "cascade")
	v.SetDefault("detector.pool_size", 2)
	v.SetDefault("detector.tolerate_failures", true)
	v.SetDefault("detector.parallel", true)

	v.SetDefault("detector.yolo.engine", "opencv")
	v.SetDefault("detector.yolo.model_path", "models/yolov8n.onnx")
	v.SetDefault("detector.yolo.runtime_library", "")
	v.SetDefault("detector.yolo.input_size", 640)
	v.SetDefault("detector.yolo.num_classes", 80)
	v.SetDefault("detector.yolo.person_class_id", 0)
	v.SetDefault("detector.yolo.confidence_threshold", 0.4)
	v.SetDefault("detector.yolo.nms_threshold", 0.45)
	v.SetDefault("detector.yolo.use_gpu", false)

	v.SetDefault("detector.cascade.full_body.path", "models/haarcascade_fullbody.xml")
	v.SetDefault("detector.cascade.full_body.scale_factor", 1.1)
	v.SetDefault("detector.cascade.full_body.min_neighbors", 3)
	v.SetDefault("detector.cascade.full_body.min_size_width", 30)
	v.SetDefault("detector.cascade.full_body.min_size_height", 90)
	v.SetDefault("detector.cascade.full_body.confidence", 0.85)
	v.SetDefault("detector.cascade.upper_body.path", "models/haarcascade_upperbody.xml")
	v.SetDefault("detector.cascade.upper_body.scale_factor", 1.1)
	v.SetDefault("detector.cascade.upper_body.min_neighbors", 3)
	v.SetDefault("detector.cascade.upper_body.min_size_width", 30)
	v.SetDefault("detector.cascade.upper_body.min_size_height", 60)
	v.SetDefault("detector.cascade.upper_body.confidence", 0.75)

	v.SetDefault("detector.dedup.mode", "offset")
	v.SetDefault("detector.dedup.offset_pixels", 50)
	v.SetDefault("detector.dedup.iou_threshold", 0.5)

	v.SetDefault("density.formula", "area_ratio")

	v.SetDefault("heatmap.enabled", true)
	v.SetDefault("heatmap.stamp", "disc")
	v.SetDefault("heatmap.blur_kernel", 51)
	v.SetDefault("heatmap.alpha", 0.5)
	v.SetDefault("heatmap.quality", 90)

	v.SetDefault("artifacts.backend", "filesystem")
	v.SetDefault("artifacts.dir", "/data/static")
	v.SetDefault("artifacts.url_prefix", "/static")
	v.SetDefault("artifacts.max_items", 200)

	v.SetDefault("processing.workers", 0)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "crowdscope")
	v.SetDefault("mqtt.topic_prefix", "crowdscope")
	v.SetDefault("mqtt.subscribe_frames", true)
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")

	v.SetDefault("cleanup.retention_days", 30)
	v.SetDefault("cleanup.interval_hours", 24)

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.min_level", "high")
}

func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Artifacts.Backend == "filesystem" && cfg.Artifacts.Dir != "" {
		if err := os.MkdirAll(cfg.Artifacts.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create artifacts directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.DB.Enabled && cfg.DB.Driver == "sqlite" && cfg.DB.File != "" && cfg.DB.File != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
