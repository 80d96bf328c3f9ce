package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/core-tools/hsu-unitd/pkg/bus"
	"github.com/core-tools/hsu-unitd/pkg/cgroups"
	"github.com/core-tools/hsu-unitd/pkg/control"
	"github.com/core-tools/hsu-unitd/pkg/jobs"
	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/manager"
	"github.com/core-tools/hsu-unitd/pkg/policy"
	"github.com/core-tools/hsu-unitd/pkg/properties"
)

type flagOptions struct {
	ConfigPath string `long:"config" description:"path to the YAML configuration file" required:"true"`
	SocketPath string `long:"socket" description:"management socket path (overrides configuration)"`
	LogLevel   string `long:"log-level" description:"log level (overrides configuration)"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	config, err := manager.LoadConfigFromFile(opts.ConfigPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.SocketPath != "" {
		config.Manager.SocketPath = opts.SocketPath
	}
	if opts.LogLevel != "" {
		config.Manager.LogLevel = opts.LogLevel
	}
	if err := manager.ValidateConfig(config); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logging.NewZapLogger(logging.ZapConfig{Level: config.Manager.LogLevel})
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(logPrefix("hsu-unitd"), logging.LogFuncs{
		Debugf: zapLogger.Debugf,
		Infof:  zapLogger.Infof,
		Warnf:  zapLogger.Warnf,
		Errorf: zapLogger.Errorf,
	})

	logger.Infof("Starting, socket: %s, units: %d", config.Manager.SocketPath, len(config.Units))

	buses := bus.NewSet()
	emitter := bus.NewEmitter(buses, logger)
	mgr := manager.NewManager(config.Manager.SettingsRoot, emitter, logger)

	if err := manager.CreateUnitsFromConfig(config, mgr, logger); err != nil {
		logger.Errorf("Failed to register configured units: %v", err)
		os.Exit(1)
	}

	policyEngine := policy.NewEngine(config.Policy, nil, logger)
	walker := cgroups.NewWalker(cgroups.NewFSController(), logger)
	killer := cgroups.NewKiller(walker, logger)
	dispatcher := jobs.NewDispatcher(mgr, policyEngine, killer, logger)
	propsEngine := properties.NewEngine(mgr, logger)
	handler := control.NewHandler(mgr, dispatcher, propsEngine, walker, logger)
	server := control.NewServer(config.ServerConfig(), handler, mgr, buses, policyEngine.Resolutions(), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(ctx)
	})

	if err := group.Wait(); err != nil {
		logger.Errorf("Server stopped with error: %v", err)
		os.Exit(1)
	}
	logger.Infof("Stopped")
}
