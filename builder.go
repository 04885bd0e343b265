package goSession

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/goSession/apiclient"
	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/google/uuid"
)

// Builder assembles a [Manager].
//
// Builder instances are configured during initialization and used once.
type Builder struct {
	config Config

	store      credential.Store
	httpClient *http.Client
	apiClient  *apiclient.Client
	logger     *slog.Logger
	eventSink  EventSink
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig replaces the whole configuration; later With* calls override
// individual fields.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore injects the credential store. Config.Storage is ignored and the
// Manager does not close the store.
func (b *Builder) WithStore(store credential.Store) *Builder {
	b.store = store
	return b
}

// WithHTTPClient sets the *http.Client used by the API client Build creates.
// Ignored when WithAPIClient is set.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithAPIClient shares an existing API client. The Manager registers its
// refresh interceptor on it in Build and ejects it in Close. An empty
// Config.BaseURL is taken from the client.
func (b *Builder) WithAPIClient(client *apiclient.Client) *Builder {
	b.apiClient = client
	return b
}

// WithLogger describes the withlogger operation and its observable behavior.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithEventSink sets the event sink and enables event dispatch.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	if sink != nil {
		b.config.Events.Enabled = true
	}
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) withClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration, opens the credential store (unless one
// was injected), creates or adopts the API client and registers the refresh
// interceptor. The returned Manager is in the loading state until
// [Manager.Initialize] resolves.
//
// A Builder can be built once; a second call returns ErrBuilderUsed.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if cfg.BaseURL == "" && b.apiClient != nil {
		cfg.BaseURL = b.apiClient.BaseURL()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- API CLIENT --------
	client := b.apiClient
	if client == nil {
		var err error
		client, err = apiclient.New(apiclient.Config{
			BaseURL:          cfg.BaseURL,
			HTTPClient:       b.httpClient,
			Timeout:          cfg.HTTP.Timeout,
			UserAgent:        cfg.HTTP.UserAgent,
			MaxResponseBytes: cfg.HTTP.MaxResponseBytes,
		})
		if err != nil {
			return nil, err
		}
	}

	// -------- CREDENTIAL STORE --------
	store := b.store
	var storeCloser io.Closer
	if store == nil {
		var err error
		store, storeCloser, err = OpenStore(context.Background(), cfg.Storage)
		if err != nil {
			return nil, err
		}
	}

	m := &Manager{
		id:          uuid.NewString(),
		config:      cfg,
		client:      client,
		store:       store,
		storeCloser: storeCloser,
		refresher:   refresh.NewCoordinator[flows.RefreshResult](cfg.Refresh.Deduplicate),
		logger:      logger,
		metrics:     NewMetrics(cfg.Metrics),
		state:       sessionState{loading: true},
	}

	owned := ownedClient{client: client, owner: m.id}
	m.flows = flows.Deps{
		Exchange: flows.ExchangeDeps{
			Client: owned,
			Store:  store,
			Now:    b.now,
			Commit: m.commitExchange,
		},
		Refresh: flows.RefreshDeps{
			Client:         owned,
			Store:          store,
			Path:           cfg.Endpoints.Refresh,
			PersistRotated: cfg.Refresh.PersistRotatedRefreshToken,
			Now:            b.now,
		},
		CurrentUser: flows.CurrentUserDeps{
			Client: owned,
			Path:   cfg.Endpoints.CurrentUser,
		},
		Logout: flows.LogoutDeps{
			Store: store,
		},
	}

	m.events = newEventDispatcher(cfg.Events, b.eventSink, logger)
	m.interceptorID = client.Use(m.refreshInterceptor)

	b.built = true
	logger.Debug("goSession: manager built", "base_url", cfg.BaseURL, "store", storeName(cfg, b.store != nil))
	return m, nil
}

func storeName(cfg Config, injected bool) string {
	if injected {
		return "injected"
	}
	if cfg.Storage.Backend == "" {
		return string(StoreMemory)
	}
	return string(cfg.Storage.Backend)
}
