package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/controller"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-ddns/internal/dns/providers"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/ipresolve"
)

var Version = "dev"

const providerName = "mijnhost"

type options struct {
	configPath   string
	templatePath string
	watch        bool
	metricsAddr  string
	probeAddr    string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", envOr("DDNS_CONFIG_PATH", config.DefaultPath),
		"Path of the persisted DNS configuration document.")
	flag.StringVar(&o.templatePath, "template", envOr("DDNS_TEMPLATE_PATH", config.DefaultTemplatePath),
		"Template copied to --config when the document does not exist.")
	flag.BoolVar(&o.watch, "watch", false,
		"Detect configuration edits with filesystem events instead of polling the modification time.")
	flag.StringVar(&o.metricsAddr, "metrics-bind-address", ":9090",
		"Address the metrics endpoint binds to. Use 0 to disable.")
	flag.StringVar(&o.probeAddr, "health-probe-bind-address", ":8081",
		"Address the health probe endpoint binds to. Use 0 to disable.")

	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	log := ctrl.Log.WithName("setup")

	log.Info("starting yk-ddns", "version", Version, "config", o.configPath, "template", o.templatePath, "watch", o.watch)

	if _, err := config.LoadAPIKey(); err != nil {
		log.Error(err, "API key is not set on startup, exiting", "critical", true, "env", config.APIKeyEnv)
		return err
	}

	changes, closeChanges := newChangeDetector(log, o)
	defer closeChanges()

	reconciler := &controller.DDNSReconciler{
		Store:      config.NewStore(o.configPath, o.templatePath, ctrl.Log.WithName("config")),
		Changes:    changes,
		Resolver:   ipresolve.New(ctrl.Log.WithName("ipresolve")),
		NewUpdater: newUpdater,
		APIKey:     config.LoadAPIKey,
		Clock:      clock.RealClock{},
		Log:        ctrl.Log.WithName("ddns-controller"),
	}

	ctx := ctrl.SetupSignalHandler()

	if err := serve(ctx, log, "metrics", o.metricsAddr, metricsHandler()); err != nil {
		return fmt.Errorf("unable to start metrics server: %w", err)
	}
	if err := serve(ctx, log, "health probe", o.probeAddr, probeHandler(reconciler.ReadyCheck)); err != nil {
		return fmt.Errorf("unable to start health probe server: %w", err)
	}

	log.Info("starting DDNS reconciler")
	return reconciler.Run(ctx)
}

// newChangeDetector falls back to polling when the document's directory
// cannot be watched yet, e.g. before the template was seeded.
func newChangeDetector(log logr.Logger, o options) (config.ChangeDetector, func()) {
	changesLog := ctrl.Log.WithName("config")
	if o.watch {
		w, err := config.NewWatchDetector(o.configPath, changesLog)
		if err == nil {
			return w, func() { _ = w.Close() }
		}
		log.Error(err, "unable to watch configuration file, falling back to polling", "path", o.configPath)
	}
	return config.NewPollDetector(o.configPath, changesLog), func() {}
}

func newUpdater(apiKey string) (controller.RecordUpdater, error) {
	p, err := dns.NewProvider(providerName, ctrl.Log.WithName("dns-"+providerName),
		config.ProviderSettings(apiKey, "yk-ddns/"+Version))
	if err != nil {
		return nil, fmt.Errorf("unable to create DNS provider: %w", err)
	}
	return dns.NewUpdater(p, ctrl.Log.WithName("dns-updater")), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
