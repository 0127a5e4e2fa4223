package cmd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoCodeAlone/fragments"
	"github.com/GoCodeAlone/fragments/config"
	"github.com/GoCodeAlone/fragments/eventbus"
	"github.com/GoCodeAlone/fragments/fragment"
	"github.com/GoCodeAlone/fragments/reporter"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig() config.HostConfig {
	cfg := config.Default()
	cfg.Name = "test-host"
	cfg.Diag.Addr = "127.0.0.1:0"
	cfg.Stats.Enabled = false
	return cfg
}

func newObservedHost(t *testing.T, cfg config.HostConfig) (*Host, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	host, err := NewHost(cfg, zap.New(core), zap.NewAtomicLevelAt(zap.InfoLevel))
	require.NoError(t, err)
	return host, logs
}

func TestHost_StartServesDiagnostics(t *testing.T) {
	host, logs := newObservedHost(t, testConfig())

	var lifecycle []string
	host.Bus.OnFunc(eventbus.EventServiceReady, func(ctx context.Context, e eventbus.Event) error {
		lifecycle = append(lifecycle, e.Data.(eventbus.ServiceLifecycleData).Service)
		return nil
	})
	require.NoError(t, host.Registry.RegisterProvider(fragments.NewProvider("cart", "1.0.0",
		func(ctx context.Context, c *fragments.Container) (any, error) { return "cart-service", nil },
		fragments.WithDependencies(fragments.EventBusServiceName),
	)))

	require.NoError(t, host.Start(context.Background()))
	addr := host.DiagAddr()
	require.NotEmpty(t, addr)
	assert.Equal(t, []string{ReporterServiceName, FragmentsServiceName, "cart"}, lifecycle)

	resp, err := http.Get("http://" + addr + "/services")
	require.NoError(t, err)
	var infos []fragments.ServiceInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	resp.Body.Close()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{
		"logger", "eventBus", "notification", LegacyEventsServiceName,
		ReporterServiceName, FragmentsServiceName, "cart",
	}, names)

	resp, err = http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "fragments_eventbus_events_total")

	require.NoError(t, host.Shutdown(context.Background()))
	assert.NotEmpty(t, logs.FilterMessage("Host stopped").All())
	assert.Empty(t, host.Registry.ListServices(), "dispose empties the registry")
}

func TestHost_ProvidersFollowRegistryLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Diag.Enabled = false
	cfg.Stats.Enabled = true
	cfg.Stats.Schedule = "@hourly"
	host, logs := newObservedHost(t, cfg)

	assert.Nil(t, host.Reporter())
	assert.Nil(t, host.Fragments())

	var disposed []string
	host.Bus.OnFunc(eventbus.EventServiceDisposed, func(ctx context.Context, e eventbus.Event) error {
		disposed = append(disposed, e.Data.(eventbus.ServiceLifecycleData).Service)
		return nil
	})

	require.NoError(t, host.Start(context.Background()))
	order := host.Registry.InitializationOrder()
	assert.Equal(t, []string{ReporterServiceName, FragmentsServiceName, StatsServiceName}, order)
	assert.NotNil(t, host.Reporter())
	assert.NotNil(t, host.Fragments())
	assert.NotEmpty(t, logs.FilterMessage("Started stats reporter").FilterField(zap.String("service", StatsServiceName)).All(),
		"the stats reporter logs through the registry logger")

	require.NoError(t, host.Shutdown(context.Background()))
	assert.Equal(t, []string{StatsServiceName, FragmentsServiceName, ReporterServiceName}, disposed)
	assert.NotEmpty(t, logs.FilterMessage("Stopped stats reporter").All())
}

func TestHost_FragmentsShareTheHostBus(t *testing.T) {
	host, _ := newObservedHost(t, testConfig())
	require.NoError(t, host.Start(context.Background()))
	defer host.Shutdown(context.Background())

	var mounted []string
	eventbus.On(host.Bus, eventbus.NewTopic[fragment.EventData](fragment.EventMounted), func(ctx context.Context, e eventbus.TypedEvent[fragment.EventData]) error {
		mounted = append(mounted, e.Payload.Fragment)
		return nil
	})

	var legacyGot []eventbus.LegacyMessage
	reg, err := fragment.NewLegacyModule("old-cart", func(target string, services map[string]any) error {
		adapter := services[LegacyEventsServiceName].(*eventbus.LegacyAdapter)
		adapter.On("cart:updated", func(m eventbus.LegacyMessage) { legacyGot = append(legacyGot, m) })
		return nil
	}, nil)
	require.NoError(t, err)
	require.NoError(t, host.Fragments().Mount(context.Background(), reg, "#cart"))

	_, err = host.Bus.Emit(context.Background(), "cart:updated", map[string]any{"items": 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"old-cart"}, mounted)
	require.Len(t, legacyGot, 1)
	assert.Equal(t, "cart:updated", legacyGot[0].Type)
}

func TestHost_CheckManifestsReportsInvalid(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("manifestVersion: \"2\"\nname: cart\nversion: 1.0.0\nentry: cart.js\ndescription: Cart\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("manifestVersion: \"2\"\nname: cart\n"), 0o600))

	cfg := testConfig()
	cfg.Diag.Enabled = false
	cfg.Fragments.Manifests = []string{good, bad, filepath.Join(dir, "missing.yaml")}
	host, logs := newObservedHost(t, cfg)

	var reports []reporter.ErrorReport
	eventbus.On(host.Bus, eventbus.NewTopic[reporter.ErrorReport](reporter.EventErrorReported), func(ctx context.Context, e eventbus.TypedEvent[reporter.ErrorReport]) error {
		reports = append(reports, e.Payload)
		return nil
	})

	require.NoError(t, host.Registry.Initialize(context.Background()))
	assert.Equal(t, 1, host.CheckManifests(context.Background()))
	require.Len(t, reports, 2)
	assert.Equal(t, bad, reports[0].Fields["manifest"])
	assert.Contains(t, reports[0].Message, "version is required")
	assert.Contains(t, reports[1].Message, "read manifest")
	assert.Len(t, logs.FilterMessage("Manifest accepted").All(), 1)
	assert.NotEmpty(t, logs.FilterMessage(cfg.Name).All(), "the notification service logs reports")
}

func TestHost_ApplyConfigChangesLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Diag.Enabled = false
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	core, logs := observer.New(level)
	host, err := NewHost(cfg, zap.New(core), level)
	require.NoError(t, err)

	next := cfg
	next.Log.Level = "debug"
	host.ApplyConfig(next)
	assert.Equal(t, zap.DebugLevel, level.Level())
	assert.NotEmpty(t, logs.FilterMessage("Log level changed").All())
	assert.Empty(t, logs.FilterMessage("Configuration change requires a restart").All())

	next.Diag.Addr = "127.0.0.1:9999"
	host.ApplyConfig(next)
	assert.NotEmpty(t, logs.FilterMessage("Configuration change requires a restart").All())
}

func TestHost_ForwardsCloudEvents(t *testing.T) {
	received := make(chan cloudevents.Event, 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ce := cloudevents.NewEvent()
		ce.SetID(r.Header.Get("Ce-Id"))
		ce.SetType(r.Header.Get("Ce-Type"))
		received <- ce
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Diag.Enabled = false
	cfg.Events.ForwardURL = srv.URL
	host, _ := newObservedHost(t, cfg)

	res, err := host.Bus.Emit(context.Background(), "cart:updated", map[string]any{"items": 2})
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ce := <-received:
			if ce.Type() != "cart:updated" {
				continue // registry lifecycle events are forwarded too
			}
			assert.Equal(t, res.Event.ID, ce.ID())
			return
		case <-deadline:
			t.Fatal("event was not forwarded")
		}
	}
}

func TestHost_StrictPayloads(t *testing.T) {
	cfg := testConfig()
	cfg.Diag.Enabled = false
	cfg.Events.StrictPayloads = true
	host, _ := newObservedHost(t, cfg)

	res, err := host.Bus.Emit(context.Background(), reporter.EventErrorReported, nil)
	require.NoError(t, err)
	assert.True(t, res.Rejected)
}
