// Package reconcile runs the periodic certificate-rotation loop: each
// Authly instance checks its own self-identity certificate and, once it
// is within the rotation threshold of expiry, reissues it under the
// local CA (spec §4.3/§9's "fresh stream of ServerConfig values pushed
// to the gRPC server").
package reconcile

import (
	"crypto/x509"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/protojour/authly/pkg/log"
	"github.com/protojour/authly/pkg/manager"
	"github.com/protojour/authly/pkg/metrics"
	"github.com/protojour/authly/pkg/security"
)

// Reconciler periodically checks an instance's self-identity certificate
// and rotates it before it expires.
type Reconciler struct {
	manager *manager.Manager
	logger  zerolog.Logger
	mu      sync.Mutex
	stopCh  chan struct{}

	// onRotate, if set, is notified with the freshly rotated instance
	// (cmd/authlyd logs it). pkg/api's gRPC server has no hook for a new
	// tls.Config and keeps the certificate it was built with.
	onRotate func(*security.AuthlyInstance)
}

// NewReconciler creates a reconciler for mgr. onRotate may be nil.
func NewReconciler(mgr *manager.Manager, onRotate func(*security.AuthlyInstance)) *Reconciler {
	return &Reconciler{
		manager:  mgr,
		logger:   log.WithComponent("reconcile"),
		stopCh:   make(chan struct{}),
		onRotate: onRotate,
	}
}

// Start begins the reconciliation loop on a 1-hour interval. Certificate
// validity is long enough (see security.identityValidity) that checking
// far more often than the rotation threshold would buy nothing.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	r.logger.Info().Msg("certificate reconciler started")
	r.reconcile()

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			r.logger.Info().Msg("certificate reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.manager.Instance()
	if inst == nil {
		return
	}

	self := inst.SelfIdentity()
	if self == nil {
		r.logger.Error().Msg("instance has no self-identity certificate")
		return
	}

	cert, err := x509.ParseCertificate(self.DER)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to parse self-identity certificate")
		return
	}

	if !security.CertNeedsRotation(cert) {
		return
	}

	r.logger.Info().Time("not_after", cert.NotAfter).Msg("rotating self-identity certificate")

	rotated, err := security.RotateSelfIdentity(r.manager.Store(), r.manager.Deks(), inst)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to rotate self-identity certificate")
		return
	}
	r.manager.SetInstance(rotated)

	timer.ObserveDuration(metrics.CertIssueDuration)
	metrics.CertsIssuedTotal.WithLabelValues("identity").Inc()

	if r.onRotate != nil {
		r.onRotate(rotated)
	}
}
