package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the BratGen backend.
type Config struct {
	HTTPAddr string

	FFmpegPath  string
	FFprobePath string

	// 文件目录
	StorageRoot string // 本地存储根目录
	UploadDir   string // StorageRoot/uploads
	TmpDir      string // StorageRoot/uploads/tmp, 远端文件的本地副本
	RenderDir   string // StorageRoot/renders

	// 存储后端: local | minio | s3
	StorageBackend string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	S3Region       string
	S3Bucket       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// 记录存储: json | sqlite | mysql
	RecordStore     string
	RecordStorePath string
	SQLitePath      string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis 为空时渲染队列退化为进程内队列
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisQueueKey string

	TranscriptionEnabled bool
	GeminiAPIKey         string
	GeminiModel          string
	TranscriptTTL        time.Duration

	RenderTimeout    time.Duration
	ProgressInterval time.Duration

	AnalysisCacheSize int
	TmpMaxAge         time.Duration
	SweepSchedule     string

	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// Load reads .env (if any) over the process environment and applies defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")
	storageRoot := getEnv("STORAGE_ROOT", "storage")
	uploadDir := filepath.Join(storageRoot, "uploads")

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		FFmpegPath:  ffmpegPath,
		FFprobePath: getEnv("FFPROBE_PATH", strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)),

		StorageRoot: storageRoot,
		UploadDir:   uploadDir,
		TmpDir:      filepath.Join(uploadDir, "tmp"),
		RenderDir:   filepath.Join(storageRoot, "renders"),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "local")),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "bratgen"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("S3_BUCKET", "bratgen"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),

		RecordStore:     strings.ToLower(getEnv("RECORD_STORE", "json")),
		RecordStorePath: getEnv("RECORD_STORE_PATH", filepath.Join(storageRoot, "datastore.json")),
		SQLitePath:      getEnv("SQLITE_PATH", filepath.Join(storageRoot, "bratgen.db")),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "bratgen"),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisQueueKey: getEnv("REDIS_QUEUE_KEY", "bratgen:render"),

		TranscriptionEnabled: getEnvBool("TRANSCRIPTION_ENABLED", false),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		TranscriptTTL:        getEnvDuration("TRANSCRIPT_TTL", 24*time.Hour),

		RenderTimeout:    getEnvDuration("RENDER_TIMEOUT", 0),
		ProgressInterval: getEnvDuration("RENDER_PROGRESS_INTERVAL", 500*time.Millisecond),

		AnalysisCacheSize: getEnvInt("ANALYSIS_CACHE_SIZE", 128),
		TmpMaxAge:         getEnvDuration("TMP_MAX_AGE", 6*time.Hour),
		SweepSchedule:     getEnv("TMP_SWEEP_SCHEDULE", "@every 30m"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
	}
}
