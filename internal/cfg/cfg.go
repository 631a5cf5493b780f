package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

// Persistent store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// request handling
	TrustedHops     int
	RateLimitRPS    float64
	RateLimitBurst  int
	MaxVisitors     int
	IPv6Prefix      int
	InsecureCookies bool
	DeliveryTimeout time.Duration

	// submission guard storage
	PersistentStore string
	RedisURL        string
	RedisKeyPrefix  string
	PersistentTTL   time.Duration
	SessionTTL      time.Duration
	Timezone        string

	// submission policy
	EnablePolicyUpdates bool
	PolicySSMParam      string
	PolicyPollInterval  time.Duration
	DailyCeiling        int
	Cooldown            time.Duration

	// delivery
	DeliveryS3Bucket string
	DeliveryS3Prefix string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "number of trusted reverse proxies in front of the server (0 ignores X-Forwarded-For)")
	fs.Float64Var(&c.RateLimitRPS, "ratelimit-rps", 2, "per-IP request rate on the public listener")
	fs.IntVar(&c.RateLimitBurst, "ratelimit-burst", 20, "per-IP burst on the public listener")
	fs.IntVar(&c.MaxVisitors, "ratelimit-max-visitors", 100000, "max distinct IPs tracked by the rate limiter")
	fs.IntVar(&c.IPv6Prefix, "ratelimit-ipv6-prefix", 64, "prefix length IPv6 clients are grouped by for rate limiting")
	fs.BoolVar(&c.InsecureCookies, "insecure-cookies", false, "drop the Secure cookie attribute (local http development only)")
	fs.DurationVar(&c.DeliveryTimeout, "delivery-timeout", 10*time.Second, "timeout for delivering one accepted message")

	fs.StringVar(&c.PersistentStore, "persistent-store", StoreMemory, "visitor counter backend: memory|redis")
	fs.StringVar(&c.RedisURL, "redis-url", "", "redis URL (redis://host:port/db) when persistent-store=redis")
	fs.StringVar(&c.RedisKeyPrefix, "redis-key-prefix", "lmcontact:", "prefix for every redis key")
	fs.DurationVar(&c.PersistentTTL, "persistent-ttl", 48*time.Hour, "expiry of persistent visitor keys")
	fs.DurationVar(&c.SessionTTL, "session-ttl", 2*time.Hour, "expiry of session-scoped keys")
	fs.StringVar(&c.Timezone, "timezone", "UTC", "IANA zone that defines the calendar day for daily limits")

	fs.BoolVar(&c.EnablePolicyUpdates, "enable-policy-updates", true, "Enable loading and polling the submission policy from SSM")
	fs.StringVar(&c.PolicySSMParam, "policy-ssm-param", "/app/linnemanlabs-contact/server/policy", "ssm parameter holding the submission policy JSON")
	fs.DurationVar(&c.PolicyPollInterval, "policy-poll-interval", 60*time.Second, "how often to poll the policy parameter")
	fs.IntVar(&c.DailyCeiling, "daily-ceiling", 3, "submissions allowed per visitor per calendar day, used until a policy is loaded")
	fs.DurationVar(&c.Cooldown, "cooldown", 60*time.Second, "minimum time between submissions, used until a policy is loaded")

	fs.StringVar(&c.DeliveryS3Bucket, "delivery-s3-bucket", "", "s3 bucket to store accepted messages in (empty logs them instead)")
	fs.StringVar(&c.DeliveryS3Prefix, "delivery-s3-prefix", "apps/linnemanlabs-contact/messages", "s3 prefix (key) for accepted messages")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Request handling
	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..8 (got %d)", c.TrustedHops))
	}
	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RATELIMIT_RPS must be > 0 (got %g)", c.RateLimitRPS))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst))
	}
	if c.IPv6Prefix < 32 || c.IPv6Prefix > 128 {
		errs = append(errs, fmt.Errorf("RATELIMIT_IPV6_PREFIX must be between 32 and 128 (got %d)", c.IPv6Prefix))
	}
	if c.MaxVisitors < 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_MAX_VISITORS must be >= 1 (got %d)", c.MaxVisitors))
	}
	if c.DeliveryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DELIVERY_TIMEOUT must be > 0 (got %s)", c.DeliveryTimeout))
	}

	// Storage
	switch c.PersistentStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, fmt.Errorf("REDIS_URL required when PERSISTENT_STORE=redis"))
		} else if u, err := url.Parse(c.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, fmt.Errorf("REDIS_URL must be a redis:// or rediss:// URL (got %q)", c.RedisURL))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid PERSISTENT_STORE %q (must be memory|redis)", c.PersistentStore))
	}
	if c.PersistentTTL < 24*time.Hour {
		// counters must outlive the calendar day they count
		errs = append(errs, fmt.Errorf("PERSISTENT_TTL must be at least 24h (got %s)", c.PersistentTTL))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be > 0 (got %s)", c.SessionTTL))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err))
	}

	// Policy
	if c.DailyCeiling < 1 {
		errs = append(errs, fmt.Errorf("DAILY_CEILING must be >= 1 (got %d)", c.DailyCeiling))
	}
	if c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("COOLDOWN must be >= 0 (got %s)", c.Cooldown))
	}
	if c.EnablePolicyUpdates {
		if c.PolicySSMParam == "" {
			errs = append(errs, fmt.Errorf("POLICY_SSM_PARAM required when ENABLE_POLICY_UPDATES=true"))
		}
		if c.PolicyPollInterval < time.Second {
			errs = append(errs, fmt.Errorf("POLICY_POLL_INTERVAL must be at least 1s (got %s)", c.PolicyPollInterval))
		}
	}

	// Delivery
	if c.DeliveryS3Bucket != "" && c.DeliveryS3Prefix == "" {
		errs = append(errs, fmt.Errorf("DELIVERY_S3_PREFIX is required when DELIVERY_S3_BUCKET is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
