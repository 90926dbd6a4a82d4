package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	backendclient "beatframe/internal/backend/client"
	backendhandler "beatframe/internal/backend/handler"
	backendmetrics "beatframe/internal/backend/metrics"
	backendservice "beatframe/internal/backend/service"
	"beatframe/internal/events"
	"beatframe/internal/jwttoken"
	"beatframe/internal/notify"
	ollamahandler "beatframe/internal/ollama/handler"
	ollamaservice "beatframe/internal/ollama/service"
	"beatframe/internal/platform/config"
	"beatframe/internal/platform/metrics"
	"beatframe/internal/platform/postgres"
	"beatframe/internal/platform/redis"
	podhandler "beatframe/internal/pods/handler"
	podmetrics "beatframe/internal/pods/metrics"
	podservice "beatframe/internal/pods/service"
	podstore "beatframe/internal/pods/store"
	"beatframe/internal/providers"
	"beatframe/internal/providers/comfyui"
	"beatframe/internal/providers/ollama"
	"beatframe/internal/providers/runpod"
	"beatframe/internal/providers/stability"
	queuehandler "beatframe/internal/queue/handler"
	queuemetrics "beatframe/internal/queue/metrics"
	queueservice "beatframe/internal/queue/service"
	queuestore "beatframe/internal/queue/store"
	ratelimitmetrics "beatframe/internal/ratelimit/metrics"
	ratelimit "beatframe/internal/ratelimit/middleware"
	"beatframe/internal/ratelimit/store/bucket"
	httptransport "beatframe/internal/transport/http"
	"beatframe/internal/workflow"
	workflowmetrics "beatframe/internal/workflow/metrics"
	"beatframe/pkg/platform/circuit"
	"beatframe/pkg/platform/httpclient"
)

const eventBuffer = 1024

type app struct {
	router http.Handler
	queue  *queueservice.Manager
	pods   *podservice.Service
	async  *events.Async

	// sweepers are in-memory limiter stores whose idle buckets the janitor evicts.
	sweepers []*bucket.InMemoryBucketStore
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var checks []httptransport.Check

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		checks = append(checks, httptransport.Check{Name: "redis", Probe: redisClient.Health})
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		checks = append(checks, httptransport.Check{Name: "postgres", Probe: db.Health})
	}

	publisher, err := buildPublisher(ctx, cfg.Kafka, log, reg, a)
	if err != nil {
		return nil, err
	}

	exec := httpclient.NewExecutor(httpclient.WithTimeout(cfg.Providers.Timeout))
	engines, err := buildEngines(cfg.Providers, exec)
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(cfg.Notify, exec, log)
	if err != nil {
		return nil, err
	}

	// Queue
	var jobs queueservice.Store
	switch cfg.Queue.Store {
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("queue store postgres requires POSTGRES_DSN")
		}
		if err := queuestore.Migrate(ctx, db.DB); err != nil {
			return nil, fmt.Errorf("migrate job store: %w", err)
		}
		jobs = queuestore.NewPostgres(db.DB)
	default:
		jobs = queuestore.NewMemory()
	}
	runner := workflow.NewRunner(
		workflow.NewPoller(cfg.Workflow.PollInterval, cfg.Workflow.MaxAttempts),
		workflow.WithLogger(log),
		workflow.WithMetrics(workflowmetrics.New(reg)),
	)
	a.queue = queueservice.New(jobs, engines, runner,
		queueservice.WithLogger(log),
		queueservice.WithMetrics(queuemetrics.New(reg)),
		queueservice.WithPublisher(publisher),
		queueservice.WithNotifier(notifier),
		queueservice.WithCapacity(cfg.Queue.Capacity),
		queueservice.WithWorkerID(workerID(cfg.Queue.WorkerID)),
		queueservice.WithHeartbeat(cfg.Queue.Heartbeat),
	)

	// Pods
	var leases podservice.Store
	switch cfg.Pods.Store {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("pod store redis requires REDIS_URL")
		}
		leases = podstore.NewRedis(redisClient.Client, podstore.DefaultLeaseKey)
	default:
		leases = podstore.NewMemory()
	}
	probe := func(endpoint string) podservice.Probe {
		return ollama.New(endpoint, exec, ollama.WithPullTimeout(cfg.Pods.PullTimeout))
	}
	a.pods = podservice.New(leases,
		runpod.NewPodClient(cfg.Providers.RunPod.RESTURL, cfg.Providers.RunPod.APIKey, exec),
		probe, cfg.Pods,
		podservice.WithLogger(log),
		podservice.WithMetrics(podmetrics.New(reg)),
		podservice.WithPublisher(publisher),
	)

	generate := ollamaservice.New(a.pods,
		func(endpoint string) ollamaservice.Generator { return ollama.New(endpoint, exec) },
		ollamaservice.WithLogger(log),
	)

	// Backend proxy
	backendExec := httpclient.NewExecutor(httpclient.WithTimeout(cfg.Backend.Timeout))
	breaker := circuit.New("backend",
		circuit.WithFailureThreshold(cfg.Backend.BreakerFailures),
		circuit.WithSuccessThreshold(cfg.Backend.BreakerSuccesses),
		circuit.WithCooldown(cfg.Backend.BreakerCooldown),
	)
	backend := backendclient.New(cfg.Backend.URL, backendExec,
		backendclient.WithLogger(log),
		backendclient.WithMetrics(backendmetrics.New(reg)),
		backendclient.WithBreaker(breaker),
		backendclient.WithMockFallback(cfg.Backend.MockFallback),
	)
	projects := backendservice.New(backend)

	// Rate limiting
	local := bucket.New()
	a.sweepers = append(a.sweepers, local)
	var limiter ratelimit.BucketStore = local
	if redisClient != nil {
		limiter = ratelimit.NewFallbackLimiter(bucket.NewRedis(redisClient.Client), local,
			circuit.New("ratelimit", circuit.WithCooldown(10*time.Second)), log)
	}
	limits := ratelimit.New(limiter, cfg.RateLimit.Submissions, cfg.RateLimit.Window, log,
		ratelimit.WithMetrics(ratelimitmetrics.New(reg)),
	)

	jwt := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)

	a.router = httptransport.NewRouter(httptransport.Dependencies{
		Logger:         log,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		RequestTimeout: cfg.Server.RequestTimeout,
		AdminToken:     cfg.Server.AdminToken,
		JWTValidator:   jwttoken.NewJWTServiceAdapter(jwt),
		Checks:         checks,
		User: []httptransport.Registrar{
			queuehandler.New(a.queue, log, queuehandler.WithSubmitLimiter(limits.PerUser("submit"))),
			ollamahandler.New(generate, log, ollamahandler.WithLimiter(limits.PerUser("generate"))),
			backendhandler.New(projects, log),
		},
		Admin: []httptransport.Registrar{
			podhandler.New(a.pods, log),
		},
	})
	return a, nil
}

// startPublishing runs the event forwarder on its own context so it outlives
// the workers. stop cancels it and waits for the buffer to drain; it is safe
// to call more than once.
func (a *app) startPublishing() (stop func()) {
	if a.async == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.async.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// runJanitor evicts idle limiter buckets and prunes old finished jobs on
// every tick until ctx is done. A zero retention keeps jobs forever.
func (a *app) runJanitor(ctx context.Context, interval, retention time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for _, s := range a.sweepers {
			if n := s.Sweep(); n > 0 {
				log.DebugContext(ctx, "swept idle rate limit buckets", "count", n)
			}
		}
		if retention > 0 {
			if _, err := a.queue.Prune(ctx, retention); err != nil && ctx.Err() == nil {
				log.WarnContext(ctx, "prune jobs failed", "error", err)
			}
		}
	}
}

// workerID names this replica on the jobs it claims.
func workerID(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}

// buildPublisher returns an async Kafka publisher, or Noop without brokers.
func buildPublisher(ctx context.Context, cfg config.KafkaConfig, log *slog.Logger, reg prometheus.Registerer, a *app) (events.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return events.Noop{}, nil
	}
	client, err := events.NewKafkaClient(cfg.Brokers, cfg.ClientID, cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	sink := events.NewKafka(client, cfg.Topic, log)
	if err := sink.EnsureTopic(ctx, 3, 1); err != nil {
		log.Warn("ensure kafka topic failed", "topic", cfg.Topic, "error", err)
	}
	a.closers = append(a.closers, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sink.Close(flushCtx)
	})
	a.async = events.NewAsync(sink, eventBuffer, log, events.WithMetrics(events.NewMetrics(reg)))
	return a.async, nil
}

func buildEngines(cfg config.ProvidersConfig, exec *httpclient.Executor) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	for _, name := range cfg.Enabled {
		var engine providers.Engine
		switch name {
		case comfyui.EngineName:
			engine = comfyui.New(cfg.ComfyUI.URL, exec)
		case runpod.EngineName:
			engine = runpod.New(cfg.RunPod.URL, cfg.RunPod.Endpoint, cfg.RunPod.APIKey, exec)
		case stability.EngineName:
			engine = stability.New(cfg.Stability.URL, cfg.Stability.APIKey, exec)
		default:
			return nil, fmt.Errorf("unknown engine %q", name)
		}
		if err := registry.Register(engine); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildNotifier(cfg config.NotifyConfig, exec *httpclient.Executor, log *slog.Logger) (notify.Notifier, error) {
	var notifiers []notify.Notifier
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlack(cfg.SlackWebhookURL, exec))
	}
	if cfg.SendGridAPIKey != "" {
		sg, err := notify.NewSendGrid(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailTo)
		if err != nil {
			return nil, fmt.Errorf("sendgrid notifier: %w", err)
		}
		notifiers = append(notifiers, sg)
	}
	if len(notifiers) == 0 {
		return notify.Noop{}, nil
	}
	return notify.NewMulti(log, notifiers...), nil
}
