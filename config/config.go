package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	DB      DBConfig      `yaml:"database"`
	Auth    AuthConfig    `yaml:"auth"`
	Upload  UploadConfig  `yaml:"upload"`
	Storage StorageConfig `yaml:"storage"`
	OCR     OCRConfig     `yaml:"ocr"`
	PDF     PDFConfig     `yaml:"pdf"`
	Redis   RedisConfig   `yaml:"redis"`
	Sweeper SweeperConfig `yaml:"sweeper"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Mode            string        `yaml:"mode"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	TimeZone string `yaml:"timezone"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type UploadConfig struct {
	MaxFileSize       int64    `yaml:"max_file_size"`
	AllowedImageTypes []string `yaml:"allowed_image_types"`
	AllowedPDFTypes   []string `yaml:"allowed_pdf_types"`
}

type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Supabase SupabaseConfig `yaml:"supabase"`
	GCS      GCSConfig      `yaml:"gcs"`
	S3       S3Config       `yaml:"s3"`
}

type SupabaseConfig struct {
	URL    string `yaml:"url"`
	Key    string `yaml:"key"`
	Bucket string `yaml:"bucket"`
}

type GCSConfig struct {
	Bucket string `yaml:"bucket"`
}

type S3Config struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type OCRConfig struct {
	// Credentials is either the service account JSON itself or a path to it.
	Credentials      string        `yaml:"credentials"`
	VisionEndpoint   string        `yaml:"vision_endpoint"`
	OCRSpaceAPIKey   string        `yaml:"ocr_space_api_key"`
	OCRSpaceEndpoint string        `yaml:"ocr_space_endpoint"`
	Timeout          time.Duration `yaml:"timeout"`
	TokenTimeout     time.Duration `yaml:"token_timeout"`
	LanguageHints    []string      `yaml:"language_hints"`
}

type PDFConfig struct {
	MinChars int `yaml:"min_chars"`
	MaxPages int `yaml:"max_pages"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SweeperConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Mode:            "release",
			CORSOrigins:     []string{"http://localhost:5173"},
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		DB: DBConfig{
			Host:     "localhost",
			Port:     "5432",
			SSLMode:  "disable",
			TimeZone: "Asia/Seoul",
		},
		Upload: UploadConfig{
			MaxFileSize:       10 * 1024 * 1024,
			AllowedImageTypes: []string{"image/jpeg", "image/png", "image/jpg", "image/webp"},
			AllowedPDFTypes:   []string{"application/pdf"},
		},
		Storage: StorageConfig{
			Driver:   "supabase",
			Supabase: SupabaseConfig{Bucket: "uploads"},
			S3:       S3Config{Region: "auto", UseSSL: true},
		},
		OCR: OCRConfig{
			VisionEndpoint:   "https://vision.googleapis.com/",
			OCRSpaceEndpoint: "https://api.ocr.space/parse/image",
			Timeout:          30 * time.Second,
			TokenTimeout:     10 * time.Second,
			LanguageHints:    []string{"ko", "en"},
		},
		PDF:     PDFConfig{MinChars: 100},
		Sweeper: SweeperConfig{Interval: 5 * time.Minute, StaleAfter: 15 * time.Minute},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// CONFIG_PATH and finally the environment.
func Load() (*Config, error) {
	cfg := Default()

	path := getEnv("CONFIG_PATH", "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Mode = getEnv("GIN_MODE", c.Server.Mode)
	c.Server.CORSOrigins = getEnvAsList("CORS_ORIGINS", c.Server.CORSOrigins)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.DB.Host = getEnv("DB_HOST", c.DB.Host)
	c.DB.Port = getEnv("DB_PORT", c.DB.Port)
	c.DB.User = getEnv("DB_USER", c.DB.User)
	c.DB.Password = getEnv("DB_PASSWORD", c.DB.Password)
	c.DB.Name = getEnv("DB_NAME", c.DB.Name)
	c.DB.SSLMode = getEnv("DB_SSLMODE", c.DB.SSLMode)
	c.DB.TimeZone = getEnv("DB_TIMEZONE", c.DB.TimeZone)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)

	var err error
	if c.Upload.MaxFileSize, err = getEnvAsInt64("MAX_FILE_SIZE", c.Upload.MaxFileSize); err != nil {
		return err
	}
	c.Upload.AllowedImageTypes = getEnvAsList("ALLOWED_IMAGE_TYPES", c.Upload.AllowedImageTypes)
	c.Upload.AllowedPDFTypes = getEnvAsList("ALLOWED_PDF_TYPES", c.Upload.AllowedPDFTypes)

	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Supabase.URL = getEnv("SUPABASE_URL", c.Storage.Supabase.URL)
	c.Storage.Supabase.Key = getEnv("SUPABASE_KEY", c.Storage.Supabase.Key)
	c.Storage.Supabase.Bucket = getEnv("SUPABASE_BUCKET", c.Storage.Supabase.Bucket)
	c.Storage.GCS.Bucket = getEnv("GCS_BUCKET", c.Storage.GCS.Bucket)
	c.Storage.S3.Endpoint = getEnv("S3_ENDPOINT", c.Storage.S3.Endpoint)
	c.Storage.S3.Region = getEnv("S3_REGION", c.Storage.S3.Region)
	c.Storage.S3.Bucket = getEnv("S3_BUCKET", c.Storage.S3.Bucket)
	c.Storage.S3.AccessKey = getEnv("S3_ACCESS_KEY", c.Storage.S3.AccessKey)
	c.Storage.S3.SecretKey = getEnv("S3_SECRET_KEY", c.Storage.S3.SecretKey)
	c.Storage.S3.PublicBaseURL = getEnv("S3_PUBLIC_BASE_URL", c.Storage.S3.PublicBaseURL)
	if c.Storage.S3.UseSSL, err = getEnvAsBool("S3_USE_SSL", c.Storage.S3.UseSSL); err != nil {
		return err
	}

	c.OCR.Credentials = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.OCR.Credentials)
	c.OCR.VisionEndpoint = getEnv("VISION_ENDPOINT", c.OCR.VisionEndpoint)
	c.OCR.OCRSpaceAPIKey = getEnv("OCR_SPACE_API_KEY", c.OCR.OCRSpaceAPIKey)
	c.OCR.OCRSpaceEndpoint = getEnv("OCR_SPACE_ENDPOINT", c.OCR.OCRSpaceEndpoint)
	if c.OCR.Timeout, err = getEnvAsDuration("OCR_TIMEOUT", c.OCR.Timeout); err != nil {
		return err
	}
	if c.OCR.TokenTimeout, err = getEnvAsDuration("TOKEN_TIMEOUT", c.OCR.TokenTimeout); err != nil {
		return err
	}

	if c.PDF.MinChars, err = getEnvAsInt("PDF_MIN_CHARS", c.PDF.MinChars); err != nil {
		return err
	}
	if c.PDF.MaxPages, err = getEnvAsInt("PDF_MAX_PAGES", c.PDF.MaxPages); err != nil {
		return err
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvAsInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}

	if c.Sweeper.Interval, err = getEnvAsDuration("SWEEP_INTERVAL", c.Sweeper.Interval); err != nil {
		return err
	}
	if c.Sweeper.StaleAfter, err = getEnvAsDuration("SWEEP_STALE_AFTER", c.Sweeper.StaleAfter); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive, got %d", c.Upload.MaxFileSize)
	}
	if len(c.Upload.AllowedImageTypes) == 0 {
		return errors.New("allowed image types must not be empty")
	}
	if len(c.Upload.AllowedPDFTypes) == 0 {
		return errors.New("allowed pdf types must not be empty")
	}
	switch c.Storage.Driver {
	case "supabase", "gcs", "s3", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.PDF.MinChars < 1 {
		return fmt.Errorf("pdf min chars must be at least 1, got %d", c.PDF.MinChars)
	}
	if c.OCR.Timeout <= 0 || c.OCR.TokenTimeout <= 0 {
		return fmt.Errorf("ocr timeouts must be positive, got %v and %v", c.OCR.Timeout, c.OCR.TokenTimeout)
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", c.Sweeper.Interval)
	}
	if bound := c.MinStaleAfter(); c.Sweeper.StaleAfter < bound {
		return fmt.Errorf("sweep stale after %v is shorter than the longest extraction (%v)", c.Sweeper.StaleAfter, bound)
	}
	return nil
}

// staleMargin covers native parsing, storage and datastore time on top of the
// network timeouts.
const staleMargin = time.Minute

// MinStaleAfter is the shortest stale window that cannot catch an upload
// still inside its extraction chain: one token exchange plus both OCR calls.
func (c *Config) MinStaleAfter() time.Duration {
	return c.OCR.TokenTimeout + 2*c.OCR.Timeout + staleMargin
}

// ServiceAccountJSON resolves the configured credentials to raw JSON bytes.
// It returns nil when no credentials are configured.
func (o OCRConfig) ServiceAccountJSON() ([]byte, error) {
	raw := strings.TrimSpace(o.Credentials)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "{") {
		return []byte(raw), nil
	}
	data, err := os.ReadFile(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account file: %w", err)
	}
	return data, nil
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode, d.TimeZone,
	)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvAsInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvAsBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvAsList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
