// promptcut/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Queue delivery modes.
const (
	QueueModeLocal = "local"
	QueueModeHTTP  = "http"
)

type Config struct {
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`
	SigningKey string `mapstructure:"SIGNING_KEY"`

	FFBin            string        `mapstructure:"FF_BIN"`
	FFProbeBin       string        `mapstructure:"FFPROBE_BIN"`
	FFExtraArgs      string        `mapstructure:"FF_EXTRA_ARGS"`
	StageTimeout     time.Duration `mapstructure:"STAGE_TIMEOUT"`
	MaxInputSize     int64         `mapstructure:"MAX_INPUT_SIZE"`
	MaxConcurrency   int           `mapstructure:"MAX_CONCURRENCY"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`

	StorageDir   string        `mapstructure:"STORAGE_DIR"`
	UploadURLTTL time.Duration `mapstructure:"UPLOAD_URL_TTL"`
	JobsDSN      string        `mapstructure:"JOBS_DSN"`

	QueueMode        string        `mapstructure:"QUEUE_MODE"`
	QueueSize        int           `mapstructure:"QUEUE_SIZE"`
	QueueMaxAttempts int           `mapstructure:"QUEUE_MAX_ATTEMPTS"`
	QueueRetryDelay  time.Duration `mapstructure:"QUEUE_RETRY_DELAY"`

	YtDlpBin  string `mapstructure:"YTDLP_BIN"`
	YtDlpArgs string `mapstructure:"YTDLP_ARGS"`

	ModelName    string        `mapstructure:"MODEL_NAME"`
	ModelAPIKey  string        `mapstructure:"MODEL_API_KEY"`
	ModelBaseURL string        `mapstructure:"MODEL_BASE_URL"`
	ModelTimeout time.Duration `mapstructure:"MODEL_TIMEOUT"`

	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	TempDir string
}

// AllowedOrigins splits CORS_ORIGINS on commas. An empty value allows every origin.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("SIGNING_KEY", "change-me")
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_EXTRA_ARGS", "-preset veryfast -crf 23")
	vp.SetDefault("STAGE_TIMEOUT", "20m")
	vp.SetDefault("MAX_INPUT_SIZE", "500MB")
	vp.SetDefault("MAX_CONCURRENCY", 2)
	vp.SetDefault("THROTTLE_CPU", 10.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "500MB")
	vp.SetDefault("STORAGE_DIR", "./data")
	vp.SetDefault("UPLOAD_URL_TTL", "15m")
	vp.SetDefault("JOBS_DSN", "")
	vp.SetDefault("QUEUE_MODE", QueueModeLocal)
	vp.SetDefault("QUEUE_SIZE", 100)
	vp.SetDefault("QUEUE_MAX_ATTEMPTS", 5)
	vp.SetDefault("QUEUE_RETRY_DELAY", "2s")
	vp.SetDefault("YTDLP_BIN", "yt-dlp")
	vp.SetDefault("YTDLP_ARGS", "")
	vp.SetDefault("MODEL_NAME", "gemini-2.5-flash")
	vp.SetDefault("MODEL_API_KEY", "")
	vp.SetDefault("MODEL_BASE_URL", "")
	vp.SetDefault("MODEL_TIMEOUT", "5m")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "json")
	vp.SetDefault("CORS_ORIGINS", "")

	// Load from config file
	vp.SetConfigName("promptcut_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/promptcut/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("PROMPTCUT")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
