package tlsmanager

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// renewalWindow is how far ahead of expiry a certificate is renewed (spec
// §4.H.2 default).
const renewalWindow = 30 * 24 * time.Hour

// Listener is the subset of a running HTTPS listener's state the renewal
// sweep needs: read the active certificate's mode/expiry and swap in a
// freshly issued one.
type Listener interface {
	ID() string
	Config() domain.ProxyConfig
	CurrentCertificate() tls.Certificate
	Rotate(cert tls.Certificate) error
}

// Renewer runs the daily certificate renewal sweep described in spec
// §4.H.2, grounded on the teacher's scheduled-job pattern.
type Renewer struct {
	manager   *Manager
	listeners func() []Listener
	logger    *slog.Logger
	cron      *cron.Cron
}

func NewRenewer(manager *Manager, listeners func() []Listener, logger *slog.Logger) *Renewer {
	return &Renewer{manager: manager, listeners: listeners, logger: logger, cron: cron.New()}
}

// Start schedules the daily sweep and returns immediately.
func (r *Renewer) Start() error {
	_, err := r.cron.AddFunc("@daily", r.sweepOnce)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for an in-flight sweep to finish.
func (r *Renewer) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Renewer) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), acmeChallengeTimeout)
	defer cancel()

	for _, l := range r.listeners() {
		expiry, err := Expiry(l.CurrentCertificate())
		if err != nil {
			r.logger.Warn("reading listener certificate expiry", "listener", l.ID(), "error", err)
			continue
		}
		if time.Until(expiry) > renewalWindow {
			continue
		}

		r.logger.Info("renewing certificate", "listener", l.ID(), "expires_at", expiry)
		cfg := l.Config()
		cert, err := r.manager.Issue(ctx, l.ID(), cfg)
		if err != nil {
			r.logger.Error("renewing certificate failed", "listener", l.ID(), "error", err)
			continue
		}
		if err := l.Rotate(cert); err != nil {
			r.logger.Error("rotating listener certificate failed", "listener", l.ID(), "error", err)
		}
	}
}
