package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
)

// CriticalRetryInterval is the wait after a configuration reload failed.
const CriticalRetryInterval = 300 * time.Second

// ConfigStore loads and persists the configuration document.
type ConfigStore interface {
	Load() (*config.Config, error)
	Save(cfg *config.Config) error
}

// IPResolver returns the current public IP address.
type IPResolver interface {
	Resolve(ctx context.Context, serviceURL string) (string, error)
}

// RecordUpdater pushes an IP address to a single DNS record.
type RecordUpdater interface {
	UpdateRecord(ctx context.Context, ip, domain, name, recordType string, ttl int) bool
}

// DDNSReconciler keeps the configured DNS records pointed at the current
// public IP. It is not safe for concurrent use; Run drives it from a single
// goroutine.
type DDNSReconciler struct {
	Store    ConfigStore
	Changes  config.ChangeDetector
	Resolver IPResolver
	// NewUpdater is called on the first load and whenever the API key changes.
	NewUpdater func(apiKey string) (RecordUpdater, error)
	APIKey     func() (string, error)
	Clock      clock.Clock
	Log        logr.Logger

	cfg     *config.Config
	pending bool
	apiKey  string
	updater RecordUpdater
	ready   atomic.Bool
}

// Run reconciles until ctx is cancelled, sleeping between cycles for the
// interval the last cycle returned.
func (r *DDNSReconciler) Run(ctx context.Context) error {
	clk := r.clk()
	for {
		wait := r.Reconcile(ctx)
		r.Log.V(1).Info("sleeping until next check", "interval", wait)
		select {
		case <-ctx.Done():
			r.Log.Info("stopping DDNS reconciler")
			return nil
		case <-clk.After(wait):
		}
	}
}

// Reconcile runs one cycle and returns how long to wait before the next one.
func (r *DDNSReconciler) Reconcile(ctx context.Context) time.Duration {
	if r.cfg == nil || r.pending || r.Changes.Changed() {
		if err := r.reload(); err != nil {
			r.pending = true
			r.Log.Error(err, "configuration could not be loaded, retrying later",
				"critical", true, "retryIn", CriticalRetryInterval)
			reconcileCycles.WithLabelValues(resultReloadFailed).Inc()
			return CriticalRetryInterval
		}
		r.pending = false
	}

	settings := r.cfg.Settings
	log := r.Log.WithValues("cachedIP", settings.LastKnownIP)

	ip, err := r.Resolver.Resolve(ctx, settings.IPServiceURL)
	if err != nil {
		ipLookups.WithLabelValues(resultFailure).Inc()
		reconcileCycles.WithLabelValues(resultLookupFailed).Inc()
		log.Error(err, "could not retrieve current public IP, skipping update cycle", "url", settings.IPServiceURL)
		return settings.CheckInterval
	}
	ipLookups.WithLabelValues(resultSuccess).Inc()

	if ip == settings.LastKnownIP {
		log.Info("IP address unchanged, no DNS update needed", "ip", ip)
		reconcileCycles.WithLabelValues(resultUnchanged).Inc()
		return settings.CheckInterval
	}

	if len(r.cfg.Domains) == 0 {
		log.Info("no domains configured, caching new IP address", "ip", ip)
		r.persist(ip)
		reconcileCycles.WithLabelValues(resultUpdated).Inc()
		return settings.CheckInterval
	}

	log.Info("IP address changed, updating DNS records", "ip", ip, "records", recordCount(r.cfg.Domains))
	var errs []error
	for _, d := range r.cfg.Domains {
		for _, rec := range d.Records {
			if r.updater.UpdateRecord(ctx, ip, d.Name, rec.Name, rec.Type, rec.TTL) {
				recordUpdates.WithLabelValues(d.Name, rec.Type, resultSuccess).Inc()
				continue
			}
			recordUpdates.WithLabelValues(d.Name, rec.Type, resultFailure).Inc()
			errs = append(errs, fmt.Errorf("%s record %s in %s", rec.Type, displayName(rec.Name), d.Name))
		}
	}

	if agg := utilerrors.NewAggregate(errs); agg != nil {
		log.Error(agg, "one or more DNS updates failed, IP address not cached; all records will be retried next cycle",
			"ip", ip, "failed", len(errs))
		reconcileCycles.WithLabelValues(resultPartial).Inc()
		return settings.CheckInterval
	}

	log.Info("all DNS records updated", "ip", ip)
	r.persist(ip)
	reconcileCycles.WithLabelValues(resultUpdated).Inc()
	return settings.CheckInterval
}

// reload adopts a freshly loaded configuration. The detector baseline is
// taken before reading so an edit made during the load is not missed.
func (r *DDNSReconciler) reload() error {
	r.Changes.Observe()

	key, err := r.APIKey()
	if err != nil {
		configReloads.WithLabelValues(resultFailure).Inc()
		return err
	}

	cfg, err := r.Store.Load()
	if err != nil {
		configReloads.WithLabelValues(resultFailure).Inc()
		return err
	}

	if r.updater == nil || key != r.apiKey {
		u, err := r.NewUpdater(key)
		if err != nil {
			configReloads.WithLabelValues(resultFailure).Inc()
			return fmt.Errorf("creating DNS updater: %w", err)
		}
		r.updater, r.apiKey = u, key
	}

	r.cfg = cfg
	r.ready.Store(true)
	configReloads.WithLabelValues(resultSuccess).Inc()
	r.Log.Info("configuration loaded",
		"interval", cfg.Settings.CheckInterval,
		"ipServiceURL", cfg.Settings.IPServiceURL,
		"cachedIP", cfg.Settings.LastKnownIP,
		"domains", FormatDomains(cfg.Domains))
	return nil
}

// persist advances the cached IP and writes it back. A failed write is
// logged only; the in-memory value stays advanced.
func (r *DDNSReconciler) persist(ip string) {
	r.cfg.Settings.LastKnownIP = ip

	if err := r.Store.Save(r.cfg); err != nil {
		r.Log.Error(err, "failed to save configuration, new IP address is cached in memory only", "ip", ip)
		return
	}
	lastSuccessfulUpdate.Set(float64(r.clk().Now().Unix()))
	r.Changes.Observe()
}

// ReadyCheck is a healthz.Checker that fails until a configuration was loaded.
func (r *DDNSReconciler) ReadyCheck(_ *http.Request) error {
	if !r.ready.Load() {
		return errors.New("configuration not loaded yet")
	}
	return nil
}

func (r *DDNSReconciler) clk() clock.Clock {
	if r.Clock == nil {
		return clock.RealClock{}
	}
	return r.Clock
}
