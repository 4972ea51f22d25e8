package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/anita5511/oneplace"
)

const (
	PortKey = "port"

	GoogleClientIDKey   = "google.client_id"
	GoogleVerifyModeKey = "google.verify_mode"
	GoogleJWKSURLKey    = "google.jwks_url"
	GoogleIssuerKey     = "google.issuer"

	JWTSecretKey  = "jwt.secret"
	SessionTTLKey = "session.ttl"

	NewsAPIKeyKey     = "news.api_key"
	NewsBaseURLKey    = "news.base_url"
	WeatherAPIKeyKey  = "weather.api_key"
	WeatherBaseURLKey = "weather.base_url"
	UpstreamTimeout   = "upstream.timeout"

	CORSOriginsKey        = "cors.origins"
	PreferencesBackendKey = "preferences.backend"
	ShutdownTimeoutKey    = "shutdown.timeout"

	LogLevelKey   = "log.level"
	LogFormatKey  = "log.format"
	LogNoColorKey = "log.no_color"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// envNames keeps the variable names the dashboard client and deployments already use.
var envNames = map[string]string{
	PortKey:               "PORT",
	GoogleClientIDKey:     "GOOGLE_CLIENT_ID",
	GoogleVerifyModeKey:   "GOOGLE_VERIFY_MODE",
	GoogleJWKSURLKey:      "GOOGLE_JWKS_URL",
	GoogleIssuerKey:       "GOOGLE_ISSUER",
	JWTSecretKey:          "JWT_SECRET",
	SessionTTLKey:         "SESSION_TTL",
	NewsAPIKeyKey:         "NEWS_API_KEY",
	NewsBaseURLKey:        "NEWS_BASE_URL",
	WeatherAPIKeyKey:      "WEATHER_API_KEY",
	WeatherBaseURLKey:     "WEATHER_BASE_URL",
	UpstreamTimeout:       "UPSTREAM_TIMEOUT",
	CORSOriginsKey:        "CORS_ORIGINS",
	PreferencesBackendKey: "PREFERENCES_BACKEND",
	ShutdownTimeoutKey:    "SHUTDOWN_TIMEOUT",
	LogLevelKey:           "LOG_LEVEL",
	LogFormatKey:          "LOG_FORMAT",
	LogNoColorKey:         "LOG_NO_COLOR",
}

// Config is the resolved server configuration.
type Config struct {
	Port int

	GoogleClientID   string
	GoogleVerifyMode oneplace.VerifyMode
	GoogleJWKSURL    string
	GoogleIssuer     string

	JWTSecret  string
	SessionTTL time.Duration

	NewsAPIKey      string
	NewsBaseURL     string
	WeatherAPIKey   string
	WeatherBaseURL  string
	UpstreamTimeout time.Duration

	CORSOrigins        []string
	PreferencesBackend string
	ShutdownTimeout    time.Duration
}

// New returns a viper instance with defaults and environment bindings installed.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

// SetDefaults installs defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(PortKey, 3001)
	v.SetDefault(GoogleVerifyModeKey, string(oneplace.ModeGoogle))
	v.SetDefault(SessionTTLKey, oneplace.DefaultSessionTTL)
	v.SetDefault(NewsBaseURLKey, "https://newsapi.org/v2")
	v.SetDefault(WeatherBaseURLKey, "https://api.openweathermap.org/data/2.5")
	v.SetDefault(UpstreamTimeout, 5*time.Second)
	v.SetDefault(CORSOriginsKey, []string{"http://localhost:5173"})
	v.SetDefault(PreferencesBackendKey, BackendMemory)
	v.SetDefault(ShutdownTimeoutKey, 10*time.Second)
	v.SetDefault(LogLevelKey, "info")
	v.SetDefault(LogFormatKey, "console")

	for key, env := range envNames {
		_ = v.BindEnv(key, env)
	}
}

// Load resolves the configuration from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:               v.GetInt(PortKey),
		GoogleClientID:     strings.TrimSpace(v.GetString(GoogleClientIDKey)),
		GoogleVerifyMode:   oneplace.VerifyMode(strings.ToLower(v.GetString(GoogleVerifyModeKey))),
		GoogleJWKSURL:      v.GetString(GoogleJWKSURLKey),
		GoogleIssuer:       v.GetString(GoogleIssuerKey),
		JWTSecret:          v.GetString(JWTSecretKey),
		SessionTTL:         v.GetDuration(SessionTTLKey),
		NewsAPIKey:         v.GetString(NewsAPIKeyKey),
		NewsBaseURL:        v.GetString(NewsBaseURLKey),
		WeatherAPIKey:      v.GetString(WeatherAPIKeyKey),
		WeatherBaseURL:     v.GetString(WeatherBaseURLKey),
		UpstreamTimeout:    v.GetDuration(UpstreamTimeout),
		CORSOrigins:        splitList(v.GetStringSlice(CORSOriginsKey)),
		PreferencesBackend: strings.ToLower(v.GetString(PreferencesBackendKey)),
		ShutdownTimeout:    v.GetDuration(ShutdownTimeoutKey),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails on missing secrets instead of falling back to shared defaults.
func (c Config) Validate() error {
	var errs []error
	if c.GoogleClientID == "" {
		errs = append(errs, fmt.Errorf("%s is required", envNames[GoogleClientIDKey]))
	}
	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("%s is required", envNames[JWTSecretKey]))
	} else if len(c.JWTSecret) < oneplace.MinSecretLength {
		errs = append(errs, fmt.Errorf("%s must be at least %d bytes", envNames[JWTSecretKey], oneplace.MinSecretLength))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	switch c.PreferencesBackend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown preferences backend %q", c.PreferencesBackend))
	}
	switch c.GoogleVerifyMode {
	case oneplace.ModeGoogle, oneplace.ModeDiscovery:
	case oneplace.ModeJWKS:
		if c.GoogleJWKSURL == "" || c.GoogleIssuer == "" {
			errs = append(errs, errors.New("jwks verify mode requires GOOGLE_JWKS_URL and GOOGLE_ISSUER"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown verify mode %q", c.GoogleVerifyMode))
	}
	return errors.Join(errs...)
}

// Verifier returns the identity provider configuration for the gateway.
func (c Config) Verifier() oneplace.VerifierConfig {
	return oneplace.VerifierConfig{
		Providers: []oneplace.ProviderConfig{{
			Name:     "google",
			Mode:     c.GoogleVerifyMode,
			Audience: c.GoogleClientID,
			Issuer:   c.GoogleIssuer,
			JWKSURL:  c.GoogleJWKSURL,
		}},
	}
}

// Session returns the session gateway configuration.
func (c Config) Session() oneplace.SessionConfig {
	return oneplace.SessionConfig{
		Secret: []byte(c.JWTSecret),
		TTL:    c.SessionTTL,
	}
}

// LoadDotEnv exports the variables of a .env file into the process
// environment. Variables that are already set win, and a missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for _, key := range env.AllKeys() {
		name := strings.ToUpper(key)
		if _, exists := os.LookupEnv(name); exists {
			continue
		}
		if err := os.Setenv(name, env.GetString(key)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated value.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
