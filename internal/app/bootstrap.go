package app

import (
	"fmt"
	"os"

	"toolplane/internal/api"
	"toolplane/internal/catalog"
	"toolplane/internal/config"
	"toolplane/internal/events"
	"toolplane/internal/lifecycle"
	"toolplane/internal/monitor"
	"toolplane/internal/router"
	"toolplane/internal/runtime"
	"toolplane/internal/scoring"
	"toolplane/pkg/logging"
)

// Application wires the control plane together: configuration, runtime
// adapter, lifecycle machine, catalog, idle monitor, router and HTTP API.
// Construction is pure assembly; nothing starts until Run.
type Application struct {
	config   *Config
	manager  *config.Manager
	machine  *lifecycle.Machine
	catalog  *catalog.Catalog
	lister   *catalog.MCPLister
	monitor  *monitor.Monitor
	router   *router.Router
	server   *api.Server
	recorder *events.Recorder
}

// NewApplication performs the bootstrap sequence: logging, configuration,
// runtime adapter and every subsystem on top of them. It returns an error if
// any critical step fails; a partially constructed application is never
// returned.
func NewApplication(cfg *Config) (*Application, error) {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stdout)

	configPath := cfg.ConfigPath
	if configPath == "" {
		var err error
		configPath, err = config.GetDefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	manager, err := config.NewManager(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	snap := manager.Current()

	rt, err := runtime.NewRuntime(snap.Config.Runtime)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize container runtime: %w", err)
	}

	recorder := events.NewRecorder(1024)
	machine := lifecycle.NewMachine(snap, rt, recorder, lifecycle.Options{})

	lister := catalog.NewMCPLister()
	cat := catalog.New(machine, lister, recorder)

	routerCfg := snap.Config.Router
	scorer := scoring.NewHybrid(nil, routerCfg.KeywordWeight, routerCfg.AIWeight, recorder)
	rtr := router.New(cat, scorer, machine, router.NewMCPInvoker(machine, lister), recorder, routerCfg)

	apiCfg := snap.Config.API
	if cfg.Host != "" {
		apiCfg.Host = cfg.Host
	}
	if cfg.Port != 0 {
		apiCfg.Port = cfg.Port
	}

	return &Application{
		config:   cfg,
		manager:  manager,
		machine:  machine,
		catalog:  cat,
		lister:   lister,
		monitor:  monitor.New(machine, snap.Config.Monitor),
		router:   rtr,
		server:   api.NewServer(apiCfg, machine, rtr, recorder),
		recorder: recorder,
	}, nil
}
