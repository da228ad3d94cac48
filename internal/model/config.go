package model

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
	"github.com/spf13/viper"

	_ "embed"
)

const (
	EnvPrefix = "JOBBER"

	DefaultListen          = "127.0.0.1:8080"
	DefaultWebhookMethod   = http.MethodPut
	DefaultWebhookTimeout  = 10 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// name under which the config file appears in validation errors
const configFilename = "jobber.yaml"

//go:embed config.cue
var cueSource []byte

var (
	// cueMx serializes evaluation, cue values are not safe for concurrent use
	cueMx      sync.Mutex
	cueCtx     *cue.Context
	schema     cue.Value
	fileSchema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}
	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	fileSchema = compiled.LookupPath(cue.ParsePath("#File"))
	if fileSchema.Err() != nil {
		panic(fileSchema.Err())
	}
}

type Config struct {
	Verbose         bool          `json:"verbose" mapstructure:"verbose" yaml:"verbose"`
	Listen          string        `json:"listen" mapstructure:"listen" yaml:"listen"`
	Webhook         Webhook       `json:"webhook" mapstructure:"webhook" yaml:"webhook"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Webhook configures delivery of lifecycle notifications.
type Webhook struct {
	Method  string        `json:"method" mapstructure:"method" yaml:"method"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Listen: DefaultListen,
		Webhook: Webhook{
			Method:  DefaultWebhookMethod,
			Timeout: DefaultWebhookTimeout,
		},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadConfig validates YAML from r against the CUE schema (nil means
// defaults only), applies JOBBER_* environment overrides and validates
// the effective configuration again.
func LoadConfig(r io.Reader) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("verbose", def.Verbose)
	v.SetDefault("listen", def.Listen)
	v.SetDefault("webhook.method", def.Webhook.Method)
	v.SetDefault("webhook.timeout", def.Webhook.Timeout)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)

	if r != nil {
		raw, err := io.ReadAll(r)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := validateFile(raw); err != nil {
			return Config{}, err
		}
		if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Webhook.Method = strings.ToUpper(cfg.Webhook.Method)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateFile(raw []byte) error {
	cueMx.Lock()
	defer cueMx.Unlock()
	yamlFile, err := yaml.Extract(configFilename, raw)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	return fileSchema.Unify(yamlValue).Validate(
		cue.All(),
		cue.Concrete(true),
	)
}

// Validate checks the effective configuration against #Config.
func (c Config) Validate() error {
	cueMx.Lock()
	defer cueMx.Unlock()
	value := cueCtx.Encode(c)
	if value.Err() != nil {
		return value.Err()
	}
	return schema.Unify(value).Validate(
		cue.All(),
		cue.Concrete(true),
	)
}
