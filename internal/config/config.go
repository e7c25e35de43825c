package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Pipeline *pipelineConfig
	Queue    *queueConfig
	OCR      *ocrConfig
	Storage  *storageConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"docproc"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address        string `envconfig:"DOCPROC_ADDRESS" default:":3443"`
	MetricsAddress string `envconfig:"DOCPROC_METRICS_ADDRESS" default:":8080"`
	BaseUrl        string `envconfig:"DOCPROC_BASE_URL" default:"https://localhost:3443"`
	LogLevel       string `envconfig:"DOCPROC_LOG_LEVEL" default:"info"`
	EventsOut      string `envconfig:"DOCPROC_EVENTS_OUTPUT" default:"stdout"`
	// Master key for the per-tenant sealing keys, base64 encoded 32 bytes.
	MasterKey string `envconfig:"DOCPROC_MASTER_KEY" default:""`
}

type pipelineConfig struct {
	// Classifier thresholds (see classify package).
	MinCharsPerPage    int     `envconfig:"DOCPROC_CLASSIFY_MIN_CHARS_PER_PAGE" default:"50"`
	MinMeaningfulRatio float64 `envconfig:"DOCPROC_CLASSIFY_MIN_MEANINGFUL_RATIO" default:"0.1"`

	// Confidence policy. TextNativeConfidence is the base confidence for
	// documents whose text is read directly from the byte stream.
	// ZeroMatchDiscount scales the penalty applied for recognizers that
	// produced no matches. The default keeps a document with a single
	// matching recognizer above the high-confidence band.
	TextNativeConfidence float64 `envconfig:"DOCPROC_EXTRACTION_TEXT_NATIVE_CONFIDENCE" default:"0.95"`
	ZeroMatchDiscount    float64 `envconfig:"DOCPROC_EXTRACTION_ZERO_MATCH_DISCOUNT" default:"0.05"`

	// User-facing confidence bands.
	GoodEnoughConfidence float64 `envconfig:"DOCPROC_CONFIDENCE_GOOD_ENOUGH" default:"0.7"`
	LowConfidence        float64 `envconfig:"DOCPROC_CONFIDENCE_LOW" default:"0.5"`

	MaxReprocessAttempts int `envconfig:"DOCPROC_MAX_REPROCESS_ATTEMPTS" default:"3"`
}

type queueConfig struct {
	Workers       int           `envconfig:"DOCPROC_QUEUE_WORKERS" default:"4"`
	PollInterval  time.Duration `envconfig:"DOCPROC_QUEUE_POLL_INTERVAL" default:"2s"`
	Heartbeat     time.Duration `envconfig:"DOCPROC_QUEUE_HEARTBEAT" default:"15s"`
	LeaseDuration time.Duration `envconfig:"DOCPROC_QUEUE_LEASE_DURATION" default:"1m"`
	JobTimeout    time.Duration `envconfig:"DOCPROC_QUEUE_JOB_TIMEOUT" default:"5m"`
	MaxAttempts   int           `envconfig:"DOCPROC_QUEUE_MAX_ATTEMPTS" default:"3"`
	BackoffBase   time.Duration `envconfig:"DOCPROC_QUEUE_BACKOFF_BASE" default:"10s"`
	BackoffCap    time.Duration `envconfig:"DOCPROC_QUEUE_BACKOFF_CAP" default:"10m"`
	GCRetention   time.Duration `envconfig:"DOCPROC_QUEUE_GC_RETENTION" default:"24h"`
}

type ocrConfig struct {
	Tesseract string `envconfig:"DOCPROC_OCR_TESSERACT" default:"tesseract"`
	Pdftoppm  string `envconfig:"DOCPROC_OCR_PDFTOPPM" default:"pdftoppm"`
	Language  string `envconfig:"DOCPROC_OCR_LANGUAGE" default:"eng"`
	DPI       int    `envconfig:"DOCPROC_OCR_DPI" default:"300"`
}

type storageConfig struct {
	Type string `envconfig:"DOCPROC_STORAGE_TYPE" default:"local"`
	// Local storage
	Directory string `envconfig:"DOCPROC_STORAGE_DIR" default:"/var/lib/docproc/files"`
	// S3 storage
	Endpoint  string `envconfig:"DOCPROC_STORAGE_S3_ENDPOINT" default:""`
	Bucket    string `envconfig:"DOCPROC_STORAGE_S3_BUCKET" default:"docproc"`
	AccessKey string `envconfig:"DOCPROC_STORAGE_S3_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"DOCPROC_STORAGE_S3_SECRET_KEY" default:""`
	UseSSL    bool   `envconfig:"DOCPROC_STORAGE_S3_USE_SSL" default:"true"`

	MaxFileSize int64 `envconfig:"DOCPROC_STORAGE_MAX_FILE_SIZE" default:"52428800"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault builds a fresh config from defaults and the current
// environment, bypassing the singleton. Used by tests.
func NewDefault() *Config {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
	return cfg
}
