/*
Package reconcile runs the certificate-rotation loop for an Authly
instance. Unlike the teacher's reconciler — which watched worker-node
heartbeats and container health to drive rescheduling — the only thing
an Authly instance needs reconciled against the clock is its own
self-identity certificate, which the Reconciler reissues under the local
CA once it is within the rotation threshold of expiry and stores with
manager.SetInstance. The gRPC server's tls.Config is built once in
api.NewServer and is not updated by a rotation; onRotate is the only
notification a rotation produces.

# Usage

	rec := reconcile.NewReconciler(mgr, func(inst *security.AuthlyInstance) {
		logger.Info().Str("entity_id", inst.AuthlyEid.String()).Msg("local identity certificate rotated")
	})
	rec.Start()
	defer rec.Stop()

# See Also

  - pkg/security for CertNeedsRotation/RotateSelfIdentity
  - pkg/manager for the AuthlyInstance each reconciler checks
*/
package reconcile
