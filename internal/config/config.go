// Package config собирает настройки процесса: значения по умолчанию, затем
// необязательный YAML-файл (CONFIG_FILE), затем переменные окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	TelegramToken string  `yaml:"tg_token" env:"TG_TOKEN"`
	AdminChatID   int64   `yaml:"admin_chat_id" env:"ADMIN_CHAT_ID"`
	SendRate      float64 `yaml:"send_rate" env:"SEND_RATE"`

	Port        string `yaml:"port" env:"PORT"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	TTSProvider       string `yaml:"tts_provider" env:"TTS_PROVIDER"`
	OpenAIKey         string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	OpenAIVoice       string `yaml:"openai_tts_voice" env:"OPENAI_TTS_VOICE"`
	ElevenLabsKey     string `yaml:"elevenlabs_api_key" env:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string `yaml:"elevenlabs_voice_id" env:"ELEVENLABS_VOICE_ID"`
	ElevenLabsBaseURL string `yaml:"elevenlabs_base_url" env:"ELEVENLABS_BASE_URL"`
	STTProvider       string `yaml:"stt_provider" env:"STT_PROVIDER"`
	DeepgramKey       string `yaml:"deepgram_api_key" env:"DEEPGRAM_API_KEY"`
	TTSLanguage       string `yaml:"tts_language" env:"TTS_LANGUAGE"`
	STTLanguage       string `yaml:"stt_language" env:"STT_LANGUAGE"`

	ArtifactStore string        `yaml:"artifact_store" env:"ARTIFACT_STORE"`
	ArtifactDir   string        `yaml:"artifact_dir" env:"ARTIFACT_DIR"`
	ArtifactTTL   time.Duration `yaml:"artifact_ttl" env:"ARTIFACT_TTL"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	S3Endpoint    string        `yaml:"s3_endpoint" env:"S3_ENDPOINT"`
	S3AccessKey   string        `yaml:"s3_access_key" env:"S3_ACCESS_KEY"`
	S3SecretKey   string        `yaml:"s3_secret_key" env:"S3_SECRET_KEY"`
	S3Bucket      string        `yaml:"s3_bucket" env:"S3_BUCKET"`
	S3Region      string        `yaml:"s3_region" env:"S3_REGION"`
	S3Secure      bool          `yaml:"s3_secure" env:"S3_SECURE"`

	Workers         int           `yaml:"workers" env:"WORKERS"`
	QueueSize       int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	ExternalTimeout time.Duration `yaml:"external_timeout" env:"EXTERNAL_TIMEOUT"`

	MismatchPolicy  string `yaml:"mismatch_policy" env:"MISMATCH_POLICY"`
	TempoMatch      bool   `yaml:"tempo_match" env:"TEMPO_MATCH"`
	FormantPreserve bool   `yaml:"formant_preserve" env:"FORMANT_PRESERVE"`
	SpeechToSpeech  bool   `yaml:"speech_to_speech" env:"SPEECH_TO_SPEECH"`
}

func Default() *Config {
	return &Config{
		SendRate:        25,
		Port:            "8080",
		TTSProvider:     "openai",
		STTProvider:     "openai",
		OpenAIVoice:     "alloy",
		TTSLanguage:     "ru",
		STTLanguage:     "ru",
		ArtifactStore:   "fs",
		ArtifactDir:     filepath.Join(os.TempDir(), "voice_mimic"),
		ArtifactTTL:     time.Hour,
		RedisAddr:       "localhost:6379",
		S3Region:        "us-east-1",
		S3Secure:        true,
		Workers:         4,
		QueueSize:       64,
		ExternalTimeout: 30 * time.Second,
		MismatchPolicy:  "ignore",
		FormantPreserve: true,
	}
}

// Load читает .env (если есть), YAML по пути path (если задан и существует) и
// переменные окружения, затем проверяет результат.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}
	if err := loadEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		key := t.Field(i).Tag.Get("env")
		if key == "" {
			continue
		}
		value, ok := os.LookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := setField(v.Field(i), strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TG_TOKEN is not set"))
	}

	switch c.TTSProvider {
	case "openai":
		if c.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case "elevenlabs":
		if c.ElevenLabsKey == "" || c.ElevenLabsVoiceID == "" {
			errs = append(errs, errors.New("ELEVENLABS_API_KEY and ELEVENLABS_VOICE_ID are required for the elevenlabs provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TTS_PROVIDER %q", c.TTSProvider))
	}
	switch c.STTProvider {
	case "openai":
		if c.SpeechToSpeech && c.OpenAIKey == "" {
			errs = append(errs, errors.New("SPEECH_TO_SPEECH needs OPENAI_API_KEY for recognition"))
		}
	case "deepgram":
		if c.SpeechToSpeech && c.DeepgramKey == "" {
			errs = append(errs, errors.New("SPEECH_TO_SPEECH needs DEEPGRAM_API_KEY for recognition"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider))
	}

	switch c.ArtifactStore {
	case "fs":
		if c.ArtifactDir == "" {
			errs = append(errs, errors.New("ARTIFACT_DIR is empty"))
		}
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is empty"))
		}
	case "s3":
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_ENDPOINT and S3_BUCKET are required for the s3 store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ARTIFACT_STORE %q", c.ArtifactStore))
	}

	switch c.MismatchPolicy {
	case "ignore", "guide":
	default:
		errs = append(errs, fmt.Errorf("unknown MISMATCH_POLICY %q", c.MismatchPolicy))
	}

	if c.Workers < 1 {
		errs = append(errs, errors.New("WORKERS must be positive"))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("QUEUE_SIZE must not be negative"))
	}
	if c.ExternalTimeout <= 0 {
		errs = append(errs, errors.New("EXTERNAL_TIMEOUT must be positive"))
	}
	if c.SendRate <= 0 {
		errs = append(errs, errors.New("SEND_RATE must be positive"))
	}

	return errors.Join(errs...)
}
