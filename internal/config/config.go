package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPort              = "3000"
	DefaultUploadDir         = "uploads"
	DefaultFileTTL           = 24 * time.Hour
	DefaultChunkSize         = 64 * 1024
	DefaultMaxUploadBytes    = 1 << 30
	DefaultMetadataCacheSize = 10000
	DefaultMetadataRetention = 7 * 24 * time.Hour
	DefaultSavePath          = "Received Files"
	DefaultLogFile           = "relay.log"
	DefaultStunInterval      = 5 * time.Minute
)

// Config holds relay configuration. Fields are unexported to prevent modification.
type Config struct {
	port               string
	uploadDir          string
	staticDir          string
	fileTTL            time.Duration
	chunkSize          int
	maxUploadBytes     int64
	metadataCacheSize  int
	metadataRetention  time.Duration
	savePath           string
	logFile            string
	logLevel           string
	stunServer         string
	stunInterval       time.Duration
	watchUploads       bool
	serviceName        string
	serviceDisplayName string
	serviceDescription string
}

func New() *Config {
	_ = godotenv.Load() // ignore error if .env not found

	serviceName := os.Getenv("SERVICE_NAME")
	if serviceName == "" {
		serviceName = "VSharingRelay"
	}
	serviceDisplayName := os.Getenv("SERVICE_DISPLAY_NAME")
	if serviceDisplayName == "" {
		serviceDisplayName = "VSharing File Relay"
	}
	serviceDescription := os.Getenv("SERVICE_DESCRIPTION")
	if serviceDescription == "" {
		serviceDescription = "Relays uploaded files between connected peers in real time"
	}

	return &Config{
		port:               stringEnv("PORT", DefaultPort),
		uploadDir:          stringEnv("UPLOAD_DIR", DefaultUploadDir),
		staticDir:          os.Getenv("STATIC_DIR"),
		fileTTL:            durationEnv("FILE_TTL", DefaultFileTTL),
		chunkSize:          intEnv("CHUNK_SIZE", DefaultChunkSize),
		maxUploadBytes:     int64(intEnv("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)),
		metadataCacheSize:  intEnv("METADATA_CACHE_SIZE", DefaultMetadataCacheSize),
		metadataRetention:  durationEnv("METADATA_RETENTION", DefaultMetadataRetention),
		savePath:           stringEnv("SAVE_PATH", DefaultSavePath),
		logFile:            stringEnv("LOG_FILE", DefaultLogFile),
		logLevel:           stringEnv("LOG_LEVEL", "info"),
		stunServer:         os.Getenv("STUN_SERVER"),
		stunInterval:       durationEnv("STUN_INTERVAL", DefaultStunInterval),
		watchUploads:       boolEnv("WATCH_UPLOADS", true),
		serviceName:        serviceName,
		serviceDisplayName: serviceDisplayName,
		serviceDescription: serviceDescription,
	}
}

func stringEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func boolEnv(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// Getter methods (immutable from outside)

func (c *Config) Port() string {
	return c.port
}

func (c *Config) Addr() string {
	return ":" + c.port
}

func (c *Config) UploadDir() string {
	return c.uploadDir
}

// StaticDir is the optional frontend directory; empty disables static serving.
func (c *Config) StaticDir() string {
	return c.staticDir
}

func (c *Config) FileTTL() time.Duration {
	return c.fileTTL
}

func (c *Config) ChunkSize() int {
	return c.chunkSize
}

func (c *Config) MaxUploadBytes() int64 {
	return c.maxUploadBytes
}

func (c *Config) MetadataCacheSize() int {
	return c.metadataCacheSize
}

func (c *Config) MetadataRetention() time.Duration {
	return c.metadataRetention
}

func (c *Config) SavePath() string {
	return c.savePath
}

func (c *Config) LogFile() string {
	return c.logFile
}

func (c *Config) LogLevel() string {
	return c.logLevel
}

// StunServer is empty when public endpoint discovery is disabled.
func (c *Config) StunServer() string {
	return c.stunServer
}

func (c *Config) StunInterval() time.Duration {
	return c.stunInterval
}

func (c *Config) WatchUploads() bool {
	return c.watchUploads
}

func (c *Config) ServiceName() string {
	return c.serviceName
}

func (c *Config) ServiceDisplayName() string {
	return c.serviceDisplayName
}

func (c *Config) ServiceDescription() string {
	return c.serviceDescription
}
