package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"stockpurse/internal/domain"
)

const (
	DefaultBaseURL = "https://api.stockfighter.io/ob/api"
	DefaultWSURL   = "wss://api.stockfighter.io/ob/api/ws"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		BaseURL    string `yaml:"base_url" validate:"required,url"`
		WSURL      string `yaml:"ws_url" validate:"omitempty,url"`
		APIKey     string `yaml:"api_key" validate:"required"`
		TimeoutSec int    `yaml:"timeout_sec" validate:"gte=0"`
	} `yaml:"api"`

	Trading struct {
		Account         string `yaml:"account" validate:"required"`
		Venue           string `yaml:"venue" validate:"required"`
		Stock           string `yaml:"stock" validate:"required"`
		InitialPosition int64  `yaml:"initial_position"`
		InitialBasis    int64  `yaml:"initial_basis"`
	} `yaml:"trading"`

	Strategy struct {
		ShyMaker ShyMakerConfig `yaml:"shy_maker"`
	} `yaml:"strategy"`

	Feeds struct {
		Tape       bool `yaml:"tape"`
		Executions bool `yaml:"executions"`
	} `yaml:"feeds"`

	Status struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"status"`

	Storage struct {
		Path string `yaml:"path"`
		// ResumeCheckpoint seeds the ledger from the last saved checkpoint
		// instead of trading.initial_position/initial_basis.
		ResumeCheckpoint bool `yaml:"resume_checkpoint"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// ShyMakerConfig holds the market maker tuning. Prices are cents.
type ShyMakerConfig struct {
	Rounds             int     `yaml:"rounds" validate:"gte=0"`
	WaitSecs           float64 `yaml:"wait_secs" validate:"gte=0"`
	ProbeRetries       int     `yaml:"probe_retries" validate:"gte=0"`
	ProbePauseSecs     float64 `yaml:"probe_pause_secs" validate:"gte=0"`
	QtyTolerance       int64   `yaml:"qty_tolerance" validate:"gt=0"`
	ToleranceAdjust    int64   `yaml:"tolerance_adjust" validate:"gte=0"`
	QtyMarks           []int64 `yaml:"qty_marks" validate:"required,min=1,dive,gte=0"`
	Qtys               []int64 `yaml:"qtys" validate:"required,min=1,dive,gt=0"`
	PriceDeltaFallback int64   `yaml:"price_delta_fallback"`
	InformedQty        int64   `yaml:"informed_qty" validate:"gt=0"`
	InformedPenalty    int64   `yaml:"informed_penalty" validate:"gte=0"`
	PositionLimit      int64   `yaml:"position_limit" validate:"gt=0"`
}

// Wait is the resting time before each round's cancel-all.
func (c ShyMakerConfig) Wait() time.Duration {
	return time.Duration(c.WaitSecs * float64(time.Second))
}

// ProbePause is the pause between order book probe attempts.
func (c ShyMakerConfig) ProbePause() time.Duration {
	return time.Duration(c.ProbePauseSecs * float64(time.Second))
}

// Instrument returns the configured venue/stock pair.
func (c *Config) Instrument() domain.Instrument {
	return domain.Instrument{Venue: c.Trading.Venue, Symbol: c.Trading.Stock}
}

// Timeout returns the REST timeout, 10s when unset.
func (c *Config) Timeout() time.Duration {
	if c.API.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.API.TimeoutSec) * time.Second
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)}
		}
		return nil, &domain.ConfigError{Field: "path", Err: err}
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies defaults and env overrides, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	cfg.applyDefaults()

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/journal.db"
	}
	if c.Strategy.ShyMaker.ProbeRetries == 0 {
		c.Strategy.ShyMaker.ProbeRetries = 10
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks configuration validity
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &domain.ConfigError{Field: verrs[0].Namespace(), Err: verrs}
		}
		return &domain.ConfigError{Field: "config", Err: err}
	}

	if c.API.WSURL != "" && !strings.HasPrefix(c.API.WSURL, "ws://") && !strings.HasPrefix(c.API.WSURL, "wss://") {
		return &domain.ConfigError{Field: "api.ws_url", Err: fmt.Errorf("invalid WS URL: %s", c.API.WSURL)}
	}

	sm := c.Strategy.ShyMaker
	for i := 1; i < len(sm.QtyMarks); i++ {
		if sm.QtyMarks[i] < sm.QtyMarks[i-1] {
			return &domain.ConfigError{Field: "strategy.shy_maker.qty_marks", Err: errors.New("qty marks must ascend")}
		}
	}
	if len(sm.Qtys) > len(sm.QtyMarks) {
		return &domain.ConfigError{
			Field: "strategy.shy_maker.qtys",
			Err:   fmt.Errorf("%d qtys for %d qty marks", len(sm.Qtys), len(sm.QtyMarks)),
		}
	}

	return nil
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("STOCKFIGHTER_API_KEY"); key != "" {
		cfg.API.APIKey = key
	}
	if account := os.Getenv("STOCKFIGHTER_ACCOUNT"); account != "" {
		cfg.Trading.Account = account
	}
	if venue := os.Getenv("STOCKFIGHTER_VENUE"); venue != "" {
		cfg.Trading.Venue = venue
	}
	if stock := os.Getenv("STOCKFIGHTER_STOCK"); stock != "" {
		cfg.Trading.Stock = stock
	}
}
