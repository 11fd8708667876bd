package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	// Role is "api" or "worker"; set by the binary, not the environment.
	Role            string
	DatabaseURL     string
	CORSAllowOrigin []string

	ObjectStoreType  string
	LocalStoreDir    string
	AWSRegion        string
	S3Bucket         string
	S3Prefix         string
	S3Endpoint       string
	S3ForcePathStyle bool
	SSEKMSKeyID      string
	PresignTTL       time.Duration

	PerplexityAPIKey           string
	PerplexityBaseURL          string
	PerplexityModelExploratory string
	PerplexityModelFinal       string
	LLMTimeout                 time.Duration

	MusicProvider       string
	ElevenLabsAPIKey    string
	ElevenLabsBaseURL   string
	ReplicateAPIToken   string
	ReplicateBaseURL    string
	AceStepModelVersion string
	AudioDurationMs     int
	AudioOutputFormat   string

	AnalysisConcurrency   int
	FinalizeConcurrency   int
	JobPollInterval       time.Duration
	JobLease              time.Duration
	WorkerShutdownTimeout time.Duration
	SQSAnalysisQueueURL   string
	SQSFinalizeQueueURL   string
	RunWorkersInline      bool

	SnapshotMessageModulus int
	SnapshotTimeThreshold  time.Duration
}

// Load reads configuration from the environment and optional .env files.
// Real environment variables take precedence over file values.
func Load() Config {
	v := newViper(".env", "cmd/.env")

	env := normalizeEnv(v.GetString("app_env"))
	dbURL := strings.TrimSpace(v.GetString("database_url"))
	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	runInline := dbURL == ""
	if v.IsSet("run_workers_inline") {
		runInline = v.GetBool("run_workers_inline")
	}

	return Config{
		Port:            v.GetString("port"),
		Env:             env,
		DatabaseURL:     dbURL,
		CORSAllowOrigin: splitAndTrim(v.GetString("cors_allow_origins")),

		ObjectStoreType:  normalizeStoreType(v.GetString("object_store")),
		LocalStoreDir:    v.GetString("local_store_dir"),
		AWSRegion:        v.GetString("aws_region"),
		S3Bucket:         v.GetString("s3_bucket"),
		S3Prefix:         v.GetString("s3_prefix"),
		S3Endpoint:       v.GetString("s3_endpoint"),
		S3ForcePathStyle: v.GetBool("s3_force_path_style"),
		SSEKMSKeyID:      v.GetString("sse_kms_key_id"),
		PresignTTL:       v.GetDuration("presign_ttl"),

		PerplexityAPIKey:           v.GetString("perplexity_api_key"),
		PerplexityBaseURL:          v.GetString("perplexity_base_url"),
		PerplexityModelExploratory: v.GetString("perplexity_model_exploratory"),
		PerplexityModelFinal:       v.GetString("perplexity_model_final"),
		LLMTimeout:                 time.Duration(v.GetInt("llm_timeout_seconds")) * time.Second,

		MusicProvider:       normalizeMusicProvider(v.GetString("music_provider")),
		ElevenLabsAPIKey:    v.GetString("elevenlabs_api_key"),
		ElevenLabsBaseURL:   v.GetString("elevenlabs_base_url"),
		ReplicateAPIToken:   v.GetString("replicate_api_token"),
		ReplicateBaseURL:    v.GetString("replicate_base_url"),
		AceStepModelVersion: v.GetString("ace_step_model_version"),
		AudioDurationMs:     v.GetInt("audio_duration_ms"),
		AudioOutputFormat:   v.GetString("audio_output_format"),

		AnalysisConcurrency:   max(1, v.GetInt("analysis_concurrency")),
		FinalizeConcurrency:   max(1, v.GetInt("finalize_concurrency")),
		JobPollInterval:       v.GetDuration("job_poll_interval"),
		JobLease:              v.GetDuration("job_lease"),
		WorkerShutdownTimeout: v.GetDuration("worker_shutdown_timeout"),
		SQSAnalysisQueueURL:   v.GetString("sqs_analysis_queue_url"),
		SQSFinalizeQueueURL:   v.GetString("sqs_finalize_queue_url"),
		RunWorkersInline:      runInline,

		SnapshotMessageModulus: v.GetInt("snapshot_message_modulus"),
		SnapshotTimeThreshold:  v.GetDuration("snapshot_time_threshold"),
	}
}

func newViper(envFiles ...string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	// Best-effort load of local env files for dev convenience.
	for _, path := range envFiles {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		_ = v.MergeInConfig()
	}
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("app_env", "dev")
	v.SetDefault("cors_allow_origins", "http://localhost:3000")
	v.SetDefault("object_store", "local")
	v.SetDefault("local_store_dir", "./data")
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("presign_ttl", time.Hour)
	v.SetDefault("perplexity_base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity_model_exploratory", "sonar-pro")
	v.SetDefault("perplexity_model_final", "sonar-reasoning")
	v.SetDefault("llm_timeout_seconds", 120)
	v.SetDefault("music_provider", "elevenlabs")
	v.SetDefault("elevenlabs_base_url", "https://api.elevenlabs.io")
	v.SetDefault("replicate_base_url", "https://api.replicate.com")
	v.SetDefault("audio_duration_ms", 10000)
	v.SetDefault("audio_output_format", "mp3_44100_128")
	v.SetDefault("analysis_concurrency", 5)
	v.SetDefault("finalize_concurrency", 2)
	v.SetDefault("job_poll_interval", time.Second)
	v.SetDefault("job_lease", 2*time.Minute)
	v.SetDefault("worker_shutdown_timeout", 30*time.Second)
	v.SetDefault("snapshot_message_modulus", 5)
	v.SetDefault("snapshot_time_threshold", 30*time.Second)
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeMusicProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "replicate", "ace-step", "acestep":
		return "replicate"
	default:
		return "elevenlabs"
	}
}
