// Package config turns flags, environment and .env files (collected by
// viper in the cmd packages) into validated configuration values. Library
// packages never read configuration themselves; they receive these values.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"predict-rpc/codec"
	"predict-rpc/handler"
	"predict-rpc/registry"
	"predict-rpc/scheduler"
	"predict-rpc/transport"
)

// ErrMissingPort is returned when no listening port was configured. There is
// no default port.
var ErrMissingPort = errors.New("config: port is required")

// Configuration keys, shared by flags, environment (PREDICT_<KEY> with
// dashes as underscores) and .env files.
const (
	KeyPort          = "port"
	KeyHost          = "host"
	KeyModel         = "model"
	KeyWorkers       = "workers"
	KeyGrace         = "grace"
	KeyTransport     = "transport"
	KeyCodec         = "codec"
	KeyHandler       = "handler"
	KeyMessage       = "message"
	KeyDelay         = "delay"
	KeyLogLevel      = "log-level"
	KeyEtcdEndpoints = "etcd-endpoints"
	KeyService       = "service"
	KeyAdvertiseAddr = "advertise-addr"
	KeyRegistryTTL   = "registry-ttl"
	KeyMetricsAddr   = "metrics-addr"
	KeyRateLimit     = "rate-limit"
	KeyRateBurst     = "rate-burst"
	KeyAddr          = "addr"
	KeyTimeout       = "timeout"
)

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// ServerConfig configures predictd serve.
type ServerConfig struct {
	// Listening endpoint
	Port int
	Host string

	// Concurrency
	Model   string
	Workers int
	Grace   time.Duration

	// Wire protocol: grpc, frame or jsonrpc
	Transport string

	// Built-in handler
	Handler string
	Message string
	Delay   time.Duration

	// Logging
	LogLevel string

	// Service registry (disabled without endpoints)
	EtcdEndpoints []string
	Service       string
	AdvertiseAddr string
	RegistryTTL   time.Duration

	// Metrics endpoint (disabled when empty)
	MetricsAddr string

	// Rate limit in calls per second (disabled when 0)
	RateLimit float64
	RateBurst int
}

// LoadServerConfig reads and validates the server configuration from v.
func LoadServerConfig(v *viper.Viper) (*ServerConfig, error) {
	port, err := parsePort(v.GetString(KeyPort))
	if err != nil {
		return nil, err
	}
	c := &ServerConfig{
		Port:          port,
		Host:          v.GetString(KeyHost),
		Model:         v.GetString(KeyModel),
		Workers:       v.GetInt(KeyWorkers),
		Grace:         v.GetDuration(KeyGrace),
		Transport:     v.GetString(KeyTransport),
		Handler:       v.GetString(KeyHandler),
		Message:       v.GetString(KeyMessage),
		Delay:         v.GetDuration(KeyDelay),
		LogLevel:      v.GetString(KeyLogLevel),
		EtcdEndpoints: splitList(v.GetString(KeyEtcdEndpoints)),
		Service:       v.GetString(KeyService),
		AdvertiseAddr: v.GetString(KeyAdvertiseAddr),
		RegistryTTL:   v.GetDuration(KeyRegistryTTL),
		MetricsAddr:   v.GetString(KeyMetricsAddr),
		RateLimit:     v.GetFloat64(KeyRateLimit),
		RateBurst:     v.GetInt(KeyRateBurst),
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Service == "" {
		c.Service = registry.DefaultService
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c *ServerConfig) Validate() error {
	var errs []error
	switch {
	case c.Port == 0:
		errs = append(errs, ErrMissingPort)
	case c.Port < 0 || c.Port > 65535:
		errs = append(errs, fmt.Errorf("config: port %d out of range", c.Port))
	}
	if _, err := scheduler.ParseModel(c.Model); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("config: workers must be at least 1, got %d", c.Workers))
	}
	if c.Grace <= 0 {
		errs = append(errs, fmt.Errorf("config: grace must be positive, got %s", c.Grace))
	}
	if err := transport.ValidateName(c.Transport); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if _, err := handler.Lookup(c.Handler, c.Message); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if c.Delay < 0 {
		errs = append(errs, fmt.Errorf("config: delay must not be negative, got %s", c.Delay))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("config: rate limit must not be negative, got %g", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("config: rate burst must be at least 1 when rate limiting, got %d", c.RateBurst))
	}
	return errors.Join(errs...)
}

// Endpoint is the address to bind.
func (c *ServerConfig) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-16s: %s\n", name, value))
	}
	orDisabled := func(s string) string {
		if s == "" {
			return "disabled"
		}
		return s
	}

	addSection("Predict Server")
	addField("Endpoint", c.Endpoint())
	addField("Transport", c.Transport)
	addField("Handler", c.Handler)
	addField("Message", c.Message)
	if c.Delay > 0 {
		addField("Delay", c.Delay.String())
	}

	addSection("Concurrency")
	addField("Model", c.Model)
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Grace", c.Grace.String())
	if c.RateLimit > 0 {
		addField("Rate limit", fmt.Sprintf("%g/s (burst %d)", c.RateLimit, c.RateBurst))
	} else {
		addField("Rate limit", "disabled")
	}

	addSection("Registry")
	addField("Etcd", orDisabled(strings.Join(c.EtcdEndpoints, ",")))
	if len(c.EtcdEndpoints) > 0 {
		addField("Service", c.Service)
		addField("Advertise", orDisabled(c.AdvertiseAddr))
		addField("TTL", c.RegistryTTL.String())
	}

	addSection("Observability")
	addField("Log level", c.LogLevel)
	addField("Metrics", orDisabled(c.MetricsAddr))

	return sb.String()
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// ClientConfig configures predictd call.
type ClientConfig struct {
	// Addr is host:port of the server. Empty means discover it through etcd.
	Addr          string
	EtcdEndpoints []string
	Service       string

	Transport string
	Codec     codec.CodecType
	Timeout   time.Duration
	LogLevel  string
}

// LoadClientConfig reads and validates the client configuration from v.
func LoadClientConfig(v *viper.Viper) (*ClientConfig, error) {
	c := &ClientConfig{
		Addr:          v.GetString(KeyAddr),
		EtcdEndpoints: splitList(v.GetString(KeyEtcdEndpoints)),
		Service:       v.GetString(KeyService),
		Transport:     v.GetString(KeyTransport),
		Timeout:       v.GetDuration(KeyTimeout),
		LogLevel:      v.GetString(KeyLogLevel),
	}
	if c.Service == "" {
		c.Service = registry.DefaultService
	}

	var errs []error
	ct, err := codec.ParseCodecType(v.GetString(KeyCodec))
	if err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	c.Codec = ct

	if c.Addr == "" && len(c.EtcdEndpoints) == 0 {
		errs = append(errs, errors.New("config: either addr or etcd-endpoints is required"))
	}
	if c.Transport != "" {
		if err := transport.ValidateName(c.Transport); err != nil {
			errs = append(errs, fmt.Errorf("config: %w", err))
		}
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("config: timeout must be positive, got %s", c.Timeout))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// parsePort reads a port number. Empty means unset and yields 0.
func parsePort(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: port %q is not a number", raw)
	}
	return port, nil
}

// splitList splits a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
