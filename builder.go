package authkernel

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Mosleh92/exchange-platform-v3-sub012/audit"
	"github.com/Mosleh92/exchange-platform-v3-sub012/fraud"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
	"github.com/Mosleh92/exchange-platform-v3-sub012/jwt"
	"github.com/Mosleh92/exchange-platform-v3-sub012/password"
	"github.com/Mosleh92/exchange-platform-v3-sub012/revocation"
	"github.com/Mosleh92/exchange-platform-v3-sub012/session"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store"
	"github.com/Mosleh92/exchange-platform-v3-sub012/twofactor"
)

// Builder collects the engine's collaborators. It is used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory  store.Directory
	twoFactor  twofactor.Store
	auditRepo  audit.Repository
	fraudStore fraud.Store
	notifier   audit.Notifier
	observer   Observer
	log        *zap.Logger
	now        func() time.Time

	built bool
}

// New starts a Builder on DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis enables the Redis backends. Without it every store runs in
// process, which only suits tests and single-node development.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithDirectory(d store.Directory) *Builder {
	b.directory = d
	return b
}

func (b *Builder) WithTwoFactorStore(s twofactor.Store) *Builder {
	b.twoFactor = s
	return b
}

func (b *Builder) WithAuditRepository(r audit.Repository) *Builder {
	b.auditRepo = r
	return b
}

func (b *Builder) WithFraudStore(s fraud.Store) *Builder {
	b.fraudStore = s
	return b
}

// WithNotifier sets who hears about financial audit events that could not
// be persisted. Defaults to an error log line.
func (b *Builder) WithNotifier(n audit.Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithObserver(o Observer) *Builder {
	b.observer = o
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.log = l
	return b
}

// WithClock overrides time.Now for every component. Tests only.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errBuilderUsed
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}

	cfg := cloneConfig(b.config)
	log := logger.OrNop(b.log).With(logger.Component("engine"))

	report, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	for _, w := range report.Warnings {
		log.Warn("configuration warning", zap.String("field", w.Field), zap.String("detail", w.Message))
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	observer := b.observer
	if observer == nil {
		observer = nopObserver{}
	}

	access, err := jwt.NewManager(jwt.Config{
		Secret:   []byte(cfg.Token.AccessSecret),
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		TTL:      cfg.Token.AccessTTL,
		Leeway:   cfg.Token.Leeway,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}
	refresh, err := jwt.NewManager(jwt.Config{
		Secret:   []byte(cfg.Token.RefreshSecret),
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		TTL:      cfg.Token.RefreshTTL,
		Leeway:   cfg.Token.Leeway,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	revoked := revocation.New(b.redis, revocation.Config{
		OpTimeout:     cfg.Redis.OpTimeout,
		ProbeInterval: cfg.Redis.ProbeInterval,
		CutoffTTL:     cfg.Token.RefreshTTL,
	}, b.log)

	sessCfg := session.Config{
		MaxSessions: cfg.Session.MaxSessions,
		TTL:         cfg.Token.RefreshTTL,
		OpTimeout:   cfg.Session.OpTimeout,
	}
	var sessions session.Store
	if b.redis != nil {
		sessions = session.NewRedisStore(b.redis, sessCfg)
	} else {
		sessions = session.NewMemoryStore(sessCfg)
	}

	auditRepo := b.auditRepo
	if auditRepo == nil {
		auditRepo = audit.NewMemoryRepository()
	}
	var notifier audit.Notifier = audit.NewLogNotifier(b.log)
	if b.notifier != nil {
		notifier = b.notifier
	}
	if cfg.Audit.NotifyPerMinute > 0 {
		notifier = audit.NewThrottledNotifier(notifier, rate.Limit(float64(cfg.Audit.NotifyPerMinute)/60), max(cfg.Audit.NotifyBurst, 1))
	}
	dispatcher := audit.NewDispatcher(audit.DispatcherConfig{
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, audit.MultiSink{
		audit.NewRepositorySink(auditRepo, notifier, b.log),
		audit.NewLoggerSink(b.log),
	})
	recorder := audit.NewRecorder(dispatcher, auditRepo, audit.WithClock(now))

	e := &Engine{
		config:     cfg,
		directory:  b.directory,
		access:     access,
		refresh:    refresh,
		hasher:     hasher,
		revocation: revoked,
		redis:      b.redis,
		sessions:   sessions,
		challenges: newChallengeStore(b.redis, cfg.Redis.OpTimeout*4, now),
		audit:      recorder,
		auditRepo:  auditRepo,
		observer:   observer,
		log:        log,
		now:        now,
	}

	tfStore := b.twoFactor
	if tfStore == nil {
		tfStore = twofactor.NewMemoryStore()
	}
	e.twoFactor, err = twofactor.New(tfStore, twofactor.PasswordVerifierFunc(e.verifyPasswordInTenant), twofactor.Config{
		Issuer:            cfg.TwoFactor.Issuer,
		Skew:              cfg.TwoFactor.Skew,
		RecoveryCodeCount: cfg.TwoFactor.RecoveryCodeCount,
		SMSCodeTTL:        cfg.TwoFactor.SMSCodeTTL,
		SMSMaxAttempts:    cfg.TwoFactor.SMSMaxAttempts,
		Now:               now,
	}, b.log)
	if err != nil {
		e.Close()
		return nil, err
	}

	if cfg.Fraud.Enabled {
		fraudStore := b.fraudStore
		if fraudStore == nil {
			fraudStore = fraud.NewMemoryStore()
		}
		e.fraud, err = fraud.NewPipeline(fraudStore, fraud.NewVelocity(b.redis, cfg.Fraud.Windows, b.log), recorder, fraud.Config{
			Rules: cfg.Fraud.Rules,
			Observer: func(d fraud.Decision, score float64) {
				observer.FraudDecision(string(d), score)
			},
			Now: now,
		}, b.log)
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	b.built = true
	return e, nil
}
