// Package config implements the driver's flat Configuration record,
// loadable from YAML or built programmatically, plus the handles
// (structured logger, metrics registerer) the rest of the driver is
// constructed with.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ServiceType selects which deployment flavor the client talks to. Rate
// limiting is disabled entirely for the on-premise KVStore flavor.
type ServiceType uint8

const (
	Cloud ServiceType = iota
	CloudSim
	KVStore
)

func (s ServiceType) String() string {
	switch s {
	case Cloud:
		return "CLOUD"
	case CloudSim:
		return "CLOUDSIM"
	case KVStore:
		return "KVSTORE"
	default:
		return "UNKNOWN"
	}
}

func parseServiceType(s string) (ServiceType, bool) {
	switch s {
	case "", "CLOUD":
		return Cloud, true
	case "CLOUDSIM":
		return CloudSim, true
	case "KVSTORE":
		return KVStore, true
	default:
		return Cloud, false
	}
}

// ConnectionOptions carries the mutually-exclusive TLS trust-store
// choices: either a caller-supplied pool of trusted-root certs, or a PEM
// file path the client loads (and owns the lifecycle of) on construction.
type ConnectionOptions struct {
	TrustedRootCertsPath string `yaml:"trustedRootCertsPath,omitempty"`
	PEMFilePath          string `yaml:"pemFilePath,omitempty"`
}

// Configuration is the flat driver-wide settings record: endpoint, service
// flavor, timeouts, retry/rate-limiting/breaker toggles, size caps, TLS
// trust options, structured logger and Prometheus registerer.
type Configuration struct {
	Endpoint    string      `yaml:"endpoint" validate:"required,url"`
	ServiceType ServiceType `yaml:"-"`
	Namespace   string      `yaml:"namespace,omitempty"`

	DefaultTimeout time.Duration `yaml:"defaultTimeout" validate:"required,gt=0"`
	TableDDLTimeout time.Duration `yaml:"tableDDLTimeout" validate:"required,gt=0"`
	TablePollTimeout time.Duration `yaml:"tablePollTimeout" validate:"required,gt=0"`
	TablePollDelay   time.Duration `yaml:"tablePollDelay" validate:"required,gt=0"`
	AdminTimeout     time.Duration `yaml:"adminTimeout" validate:"required,gt=0"`
	AdminPollTimeout time.Duration `yaml:"adminPollTimeout" validate:"required,gt=0"`
	AdminPollDelay   time.Duration `yaml:"adminPollDelay" validate:"required,gt=0"`
	SecurityInfoNotReadyTimeout time.Duration `yaml:"securityInfoNotReadyTimeout" validate:"required,gt=0"`

	MaxRetryAttempts int `yaml:"maxRetryAttempts,omitempty" validate:"gte=0"`

	RateLimitingEnabled bool    `yaml:"rateLimitingEnabled,omitempty"`
	RateLimiterPercent  float64 `yaml:"rateLimiterPercent,omitempty" validate:"gte=0,lte=100"`

	DisableProtocolFallback bool `yaml:"disableProtocolFallback,omitempty"`

	BreakerEnabled bool `yaml:"breakerEnabled,omitempty"`

	MaxMemory int64 `yaml:"maxMemory,omitempty" validate:"gte=0"`

	MaxRequestSize  int `yaml:"maxRequestSize,omitempty" validate:"gte=0"`
	MaxResponseSize int `yaml:"maxResponseSize,omitempty" validate:"gte=0"`

	Connection ConnectionOptions `yaml:"connection,omitempty"`

	// Zero values install no-op defaults so a Configuration built without
	// these still behaves silently; metrics and logging are opt-in
	// enrichments, not required wiring.
	Logger            *zap.Logger            `yaml:"-"`
	MetricsRegisterer prometheus.Registerer  `yaml:"-"`
}

// Defaults returns a Configuration with every timeout/delay field set to
// the driver's out-of-the-box values; callers typically start here and
// override via YAML or direct field assignment.
func Defaults(endpoint string) Configuration {
	return Configuration{
		Endpoint:                    endpoint,
		ServiceType:                 Cloud,
		DefaultTimeout:              5 * time.Second,
		TableDDLTimeout:             10 * time.Second,
		TablePollTimeout:            2 * time.Minute,
		TablePollDelay:              time.Second,
		AdminTimeout:                10 * time.Second,
		AdminPollTimeout:            2 * time.Minute,
		AdminPollDelay:              time.Second,
		SecurityInfoNotReadyTimeout: 10 * time.Second,
		MaxRetryAttempts:            10,
		RateLimitingEnabled:         true,
		RateLimiterPercent:          100,
		MaxMemory:                   1024 * 1024 * 1024,
		MaxRequestSize:              2 * 1024 * 1024,
		MaxResponseSize:             4 * 1024 * 1024,
	}
}

// yamlDoc mirrors Configuration's YAML shape but keeps serviceType and the
// duration fields as plain strings, separating the wire shape from the
// in-memory one.
type yamlDoc struct {
	Endpoint        string            `yaml:"endpoint"`
	ServiceType     string            `yaml:"serviceType"`
	Namespace       string            `yaml:"namespace,omitempty"`
	DefaultTimeout  string            `yaml:"defaultTimeout"`
	TableDDLTimeout string            `yaml:"tableDDLTimeout"`
	TablePollTimeout string           `yaml:"tablePollTimeout"`
	TablePollDelay   string           `yaml:"tablePollDelay"`
	AdminTimeout     string           `yaml:"adminTimeout"`
	AdminPollTimeout string           `yaml:"adminPollTimeout"`
	AdminPollDelay   string           `yaml:"adminPollDelay"`
	SecurityInfoNotReadyTimeout string `yaml:"securityInfoNotReadyTimeout"`
	MaxRetryAttempts int              `yaml:"maxRetryAttempts,omitempty"`
	RateLimitingEnabled bool          `yaml:"rateLimitingEnabled,omitempty"`
	RateLimiterPercent  float64       `yaml:"rateLimiterPercent,omitempty"`
	DisableProtocolFallback bool      `yaml:"disableProtocolFallback,omitempty"`
	BreakerEnabled          bool      `yaml:"breakerEnabled,omitempty"`
	MaxMemory               int64     `yaml:"maxMemory,omitempty"`
	MaxRequestSize          int       `yaml:"maxRequestSize,omitempty"`
	MaxResponseSize         int       `yaml:"maxResponseSize,omitempty"`
	Connection              ConnectionOptions `yaml:"connection,omitempty"`
}

// Load reads a YAML configuration file into a Configuration, starting from
// Defaults so an omitted field keeps its driver default rather than
// zeroing out. The boolean toggles are the exception: each is taken from
// the file as written, so an omitted rateLimitingEnabled reads as false
// even though Defaults sets it true.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := Defaults(doc.Endpoint)

	st, ok := parseServiceType(doc.ServiceType)
	if !ok {
		return nil, fmt.Errorf("config: unknown serviceType %q (expected CLOUD, CLOUDSIM or KVSTORE)", doc.ServiceType)
	}
	cfg.ServiceType = st
	cfg.Namespace = doc.Namespace
	cfg.Connection = doc.Connection

	durations := []struct {
		field *time.Duration
		raw   string
		name  string
	}{
		{&cfg.DefaultTimeout, doc.DefaultTimeout, "defaultTimeout"},
		{&cfg.TableDDLTimeout, doc.TableDDLTimeout, "tableDDLTimeout"},
		{&cfg.TablePollTimeout, doc.TablePollTimeout, "tablePollTimeout"},
		{&cfg.TablePollDelay, doc.TablePollDelay, "tablePollDelay"},
		{&cfg.AdminTimeout, doc.AdminTimeout, "adminTimeout"},
		{&cfg.AdminPollTimeout, doc.AdminPollTimeout, "adminPollTimeout"},
		{&cfg.AdminPollDelay, doc.AdminPollDelay, "adminPollDelay"},
		{&cfg.SecurityInfoNotReadyTimeout, doc.SecurityInfoNotReadyTimeout, "securityInfoNotReadyTimeout"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid %s %q: %w", d.name, d.raw, err)
		}
		*d.field = parsed
	}

	if doc.MaxRetryAttempts > 0 {
		cfg.MaxRetryAttempts = doc.MaxRetryAttempts
	}
	cfg.RateLimitingEnabled = doc.RateLimitingEnabled
	if doc.RateLimiterPercent > 0 {
		cfg.RateLimiterPercent = doc.RateLimiterPercent
	}
	cfg.DisableProtocolFallback = doc.DisableProtocolFallback
	cfg.BreakerEnabled = doc.BreakerEnabled
	if doc.MaxMemory > 0 {
		cfg.MaxMemory = doc.MaxMemory
	}
	if doc.MaxRequestSize > 0 {
		cfg.MaxRequestSize = doc.MaxRequestSize
	}
	if doc.MaxResponseSize > 0 {
		cfg.MaxResponseSize = doc.MaxResponseSize
	}

	return &cfg, nil
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg: go-playground/validator's tag-driven struct checks
// cover the simple per-field constraints, and hand-written rules cover
// what a tag can't express (mutually-exclusive trust options,
// rateLimiterPercent's open interval, the KVStore rate-limiting rule).
func Validate(cfg *Configuration) error {
	if err := structValidator.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			result := &ValidationResult{}
			for _, fe := range verrs {
				result.Add(ValidationError{
					Field:    fe.StructField(),
					Value:    fmt.Sprintf("%v", fe.Value()),
					Message:  fmt.Sprintf("failed %q validation", fe.Tag()),
					Expected: fe.Param(),
					Hint:     GetHint(fe.StructField()),
				})
			}
			return fmt.Errorf("%s", result.FormatErrors())
		}
		return err
	}

	result := &ValidationResult{}

	if cfg.Connection.TrustedRootCertsPath != "" && cfg.Connection.PEMFilePath != "" {
		result.Add(ValidationError{
			Field:   "connection",
			Message: "trustedRootCertsPath and pemFilePath are mutually exclusive",
			Hint:    "Provide at most one trust-store source; the driver refuses to merge the two.",
		})
	}

	if cfg.RateLimiterPercent == 0 {
		result.Add(ValidationError{
			Field:    "rateLimiterPercent",
			Message:  "rateLimiterPercent must be in (0, 100]",
			Expected: "a value greater than 0 and at most 100",
			Hint:     "Use 100 to pace at the table's full provisioned throughput.",
		})
	}

	if cfg.ServiceType == KVStore && cfg.RateLimitingEnabled {
		result.Add(ValidationError{
			Field:   "rateLimitingEnabled",
			Message: "rate limiting cannot be enabled for the KVStore service type",
			Hint:    "Rate limiting is a Cloud-only concern; leave this field unset for on-premise deployments.",
		})
	}

	if result.HasErrors() {
		return fmt.Errorf("%s", result.FormatErrors())
	}
	return nil
}

// Logging returns cfg.Logger, or a no-op logger if none was configured, so
// a silent driver is the out-of-the-box behavior.
func (cfg *Configuration) Logging() *zap.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return zap.NewNop()
}

// Metrics returns cfg.MetricsRegisterer, or prometheus's default registry
// if none was configured.
func (cfg *Configuration) Metrics() prometheus.Registerer {
	if cfg.MetricsRegisterer != nil {
		return cfg.MetricsRegisterer
	}
	return prometheus.DefaultRegisterer
}
