package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-contact/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-contact/internal/contacthttp"
	"github.com/keithlinneman/linnemanlabs-contact/internal/delivery"
	"github.com/keithlinneman/linnemanlabs-contact/internal/formguard"
	"github.com/keithlinneman/linnemanlabs-contact/internal/health"
	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contact/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-contact/internal/kv"
	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-contact/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-contact/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-contact/internal/policy"
	"github.com/keithlinneman/linnemanlabs-contact/internal/prof"
	"github.com/keithlinneman/linnemanlabs-contact/internal/ratelimit"
	v "github.com/keithlinneman/linnemanlabs-contact/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix LMCONTACT_ and validate
	cfg.FillFromEnv(flag.CommandLine, "LMCONTACT_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// validate config
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		stackLvl = lvl
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		Redact:            log.DefaultRedact,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_policy_updates", conf.EnablePolicyUpdates,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"trusted_hops", conf.TrustedHops,
		"persistent_store", conf.PersistentStore,
		"timezone", conf.Timezone,
		"policy_ssm_param", conf.PolicySSMParam,
		"delivery_s3_bucket", conf.DeliveryS3Bucket,
		"delivery_s3_prefix", conf.DeliveryS3Prefix,
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// calendar day boundaries for the daily ceiling, validated in cfg
	loc, _ := time.LoadLocation(conf.Timezone)

	// AWS clients are only built when something needs them so local runs work without credentials
	var awsCfg *aws.Config
	if conf.EnablePolicyUpdates || conf.DeliveryS3Bucket != "" {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		awsCfg = &c
	}

	// policy starts from the configured defaults and is replaced by the SSM document once loaded
	basePolicy := policy.Default()
	basePolicy.DailyCeiling = conf.DailyCeiling
	basePolicy.Cooldown = conf.Cooldown
	if err := basePolicy.Validate(); err != nil {
		L.Error(ctx, err, "invalid base policy")
		os.Exit(1)
	}

	policyMgr := policy.NewManager()
	policyMgr.Set(policy.Snapshot{
		Policy:  basePolicy,
		Source:  policy.SourceDefault,
		Version: "default",
	})

	if conf.EnablePolicyUpdates {
		policyLoader, err := policy.NewLoader(policy.LoaderOptions{
			Logger:    L,
			SSMParam:  conf.PolicySSMParam,
			SSMClient: ssm.NewFromConfig(*awsCfg),
			Base:      &basePolicy,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create policy loader, policy updates will be disabled")
		} else {
			if err := policyLoader.LoadIntoManager(ctx, policyMgr); err != nil {
				// defaults still enforce a ceiling, the watcher keeps retrying
				L.Error(ctx, err, "failed to load policy from SSM, using defaults")
			} else {
				L.Info(ctx, "loaded policy from SSM", "policy_version", policyMgr.Version())
			}

			watcher := policy.NewWatcher(policy.WatcherOptions{
				Logger:       L,
				Loader:       policyLoader,
				Manager:      policyMgr,
				PollInterval: conf.PolicyPollInterval,
				Metrics:      m,
				OnSwap: func(p policy.Policy, version string) {
					m.SetPolicy(string(policy.SourceSSM), version, p.DailyCeiling, p.Cooldown, time.Now())
				},
			})
			// Run the watcher in a separate goroutine
			go func() { _ = watcher.Run(ctx) }()
		}
	}
	m.SetPolicy(string(policyMgr.Source()), policyMgr.Version(), policyMgr.Policy().DailyCeiling, policyMgr.Policy().Cooldown, policyMgr.LoadedAt())

	// setup visitor storage
	// persistent holds day counters and the last submission time, session holds form start and the fallback flag
	var persistent kv.Store
	var storeProbe health.Probe
	switch conf.PersistentStore {
	case cfg.StoreRedis:
		rdb, err := kv.NewRedis(kv.RedisOptions{
			URL:       conf.RedisURL,
			KeyPrefix: conf.RedisKeyPrefix,
			TTL:       conf.PersistentTTL,
		})
		if err != nil {
			L.Error(ctx, err, "invalid redis configuration")
			os.Exit(1)
		}
		defer rdb.Close()
		checkCtx, cancelCheck := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Check(checkCtx); err != nil {
			// the guard degrades to session-only storage while redis is down, so keep starting
			L.Warn(ctx, "redis not reachable at startup", "error", err)
		}
		cancelCheck()
		persistent = rdb
		storeProbe = rdb
	default:
		L.Warn(ctx, "using in-memory persistent store, visitor counters are lost on restart and not shared between instances")
		persistent = kv.NewMemory(ctx, kv.WithTTL(conf.PersistentTTL))
	}
	session := kv.NewMemory(ctx, kv.WithTTL(conf.SessionTTL))

	guard := formguard.New(append([]formguard.Option{
		formguard.WithPolicy(policyMgr),
		formguard.WithLocation(loc),
	}, m.GuardOptions()...)...)

	// setup delivery of accepted messages
	var sink delivery.Sink = delivery.LogSink{Logger: L}
	if conf.DeliveryS3Bucket != "" {
		s3Sink, err := delivery.NewS3Sink(delivery.S3Options{
			Logger: L,
			Bucket: conf.DeliveryS3Bucket,
			Prefix: conf.DeliveryS3Prefix,
			Client: s3.NewFromConfig(*awsCfg),
		})
		if err != nil {
			L.Error(ctx, err, "failed to create s3 delivery sink")
			os.Exit(1)
		}
		sink = s3Sink
	} else {
		L.Warn(ctx, "no delivery bucket configured, accepted messages are only logged")
	}

	contactAPI, err := contacthttp.NewAPI(contacthttp.Options{
		Logger:          L,
		Guard:           guard,
		Persistent:      persistent,
		Session:         session,
		Sink:            sink,
		Metrics:         m,
		InsecureCookies: conf.InsecureCookies,
		DeliveryTimeout: conf.DeliveryTimeout,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create contact api")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// readiness: not draining and a policy is active
	// the store stays out, an instance with redis down still serves on session storage
	readiness := health.All(
		gate.Probe(),
		health.Named("policy", policyMgr),
	)

	// Setup rate limiter middleware for the public listener
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
		ratelimit.WithMaxVisitors(conf.MaxVisitors),
		ratelimit.WithIPv6Prefix(conf.IPv6Prefix),
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(client string) {
			L.Warn(ctx, "rate limit triggered", "client", client)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	// start public http server
	contactHTTPStop, err := httpserver.Start(
		ctx,
		httpserver.Options{
			Port:         conf.HTTPPort,
			Health:       health.Fixed(true, ""),
			Readiness:    readiness,
			APIRoutes:    func(r chi.Router) { contactAPI.RegisterRoutes(r) },
			MaxBodyBytes: contacthttp.MaxRequestBytes,
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
			MetricsMW:    m.Middleware,
			RateLimitMW:  limiter.Middleware,
			ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
			PolicyInfo:   policyMgr,
			Logger:       L,
		},
	)
	if err != nil {
		L.Error(ctx, err, "failed to start contact http listener port")
		os.Exit(1)
	}
	defer func() { _ = contactHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof and any future admin APIs
	// sg restricts inbound to internal monitoring infrastructure
	// we reject connections from public ips in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic there
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		Policy:       policyMgr,
		Build:        &vi,
		Store:        storeProbe,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness checks to drain connections
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// will make sleep time tunable in the future
	L.Info(context.Background(), "sleeping 60s for in-flight and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(60 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := contactHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "contact http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
