package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/protojour/authly/pkg/api"
	"github.com/protojour/authly/pkg/config"
	"github.com/protojour/authly/pkg/events"
	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/k8sauth"
	"github.com/protojour/authly/pkg/log"
	"github.com/protojour/authly/pkg/manager"
	"github.com/protojour/authly/pkg/metrics"
	"github.com/protojour/authly/pkg/reconcile"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/tunnel"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "authlyd",
	Short: "Authly - identity, certificate, and policy plane for service meshes",
	Long: `authlyd is the Authly control-plane daemon. Each instance holds a
local certificate authority, replicates directory (entity/policy) state
over Raft, and serves the mTLS gRPC API workloads use to authenticate each
other and evaluate policy.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"authlyd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(infoCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// serviceIDFromBytes derives this instance's stable id.ServiceID from
// AUTHLY_ID. The env var is a 32-byte UID (spec §6) while id.Id is a
// 128-bit tagged identifier (pkg/id) — rather than pull in a hashing step,
// the leading 16 bytes of the UID become the identifier directly. This is
// stable across restarts, which is what matters: AUTHLY_ID is also the
// Raft node ID and the subject name of the local CA's self-identity
// certificate, so it must never change while the instance's data
// directory is reused.
func serviceIDFromBytes(b [32]byte) id.ServiceID {
	var raw [16]byte
	copy(raw[:], b[:16])
	return id.FromRawArray[id.ServiceID](raw)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Authly daemon: bootstrap or join the cluster, then serve",
	Long: `serve reads configuration from the environment (see pkg/config),
opens this instance's storage and secrets backend, bootstraps a new
single-node Raft cluster if this is the first node (no AUTHLY_CLUSTER_NODE_ID
/ AUTHLY_CLUSTER_RAFT_ADDR configured) or joins an already-initialized one,
then starts the mTLS gRPC API, the metrics/health HTTP server, and the
certificate-rotation reconciliation loop. Optional servers (Kubernetes
service-account auth, the Authly-Connect tunnel) start only when their
config is present.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.WithComponent("authlyd")
	logger.Info().Str("hostname", cfg.Hostname).Str("data_dir", cfg.DataDir).Msg("starting authly daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eid := serviceIDFromBytes(cfg.ID)
	isLeader := cfg.Cluster.NodeID == "" || cfg.Cluster.RaftAddr == ""

	mgr, err := manager.NewManager(ctx, &manager.Config{
		EntityID: eid,
		BindAddr: bindAddrOrDefault(cfg.Cluster.RaftAddr),
		DataDir:  cfg.DataDir,
		Backend:  cfg.SecretsBackend(),
		IsLeader: isLeader,
	})
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	if isLeader {
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrapping cluster: %w", err)
		}
		logger.Info().Msg("cluster bootstrapped as single-node leader")
	} else {
		if err := mgr.Join(); err != nil {
			return fmt.Errorf("joining cluster: %w", err)
		}
		logger.Info().Msg("joined existing cluster")
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	broker := events.NewBroker()
	dispatcher := events.NewServiceEventDispatcher(ctx)

	apiServer, err := api.NewServer(mgr, broker, dispatcher)
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	errCh := make(chan error, 4)
	apiAddr := fmt.Sprintf(":%d", cfg.ServerPort)
	go func() {
		if err := apiServer.Start(apiAddr); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	logger.Info().Str("addr", apiAddr).Msg("gRPC API listening")

	healthServer := api.NewHealthServer(mgr)
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")
	go serveMetrics(metricsAddr, healthServer, pprofEnabled, errCh)
	logger.Info().Str("addr", metricsAddr).Msg("metrics/health endpoint listening")

	recon := reconcile.NewReconciler(mgr, func(inst *security.AuthlyInstance) {
		logger.Info().Str("entity_id", inst.AuthlyEid.String()).Msg("local identity certificate rotated")
	})
	recon.Start()
	defer recon.Stop()

	var k8sServer *k8sauth.Server
	if cfg.K8s.Enabled {
		k8sServer, err = startK8sAuthServer(mgr, cfg, errCh)
		if err != nil {
			return err
		}
		defer k8sServer.Stop()
	}

	if cfg.K8s.Enabled {
		// The tunnel fronts the k8s auth handshake for callers with no
		// Authly identity yet (spec.md line 193 / SPEC_FULL.md §13 item
		// 5); it has no purpose to start when k8s auth is disabled, since
		// nothing else in this daemon speaks through it yet.
		tunnelServer := tunnel.NewServer(map[tunnel.Security]tunnel.Endpoint{})
		go func() {
			addr := fmt.Sprintf(":%d", cfg.ServerPort+1)
			if err := tunnelServer.Start(addr); err != nil {
				errCh <- fmt.Errorf("tunnel server: %w", err)
			}
		}()
		defer tunnelServer.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("fatal server error")
		apiServer.Stop()
		return err
	}

	apiServer.Stop()
	logger.Info().Msg("shutdown complete")
	return nil
}

func bindAddrOrDefault(addr string) string {
	if addr == "" {
		return "127.0.0.1:7946"
	}
	return addr
}

// serveMetrics wraps api.HealthServer's /health, /ready, /metrics mux
// (already wired to pkg/metrics.Handler) with an optional pprof mount,
// the same enable-pprof toggle the teacher exposes on its own metrics
// server.
func serveMetrics(addr string, health *api.HealthServer, pprofEnabled bool, errCh chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/", health.GetHandler())
	if pprofEnabled {
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errCh <- fmt.Errorf("metrics server: %w", err)
	}
}

func startK8sAuthServer(mgr *manager.Manager, cfg *config.Config, errCh chan<- error) (*k8sauth.Server, error) {
	jwksURL := "https://kubernetes.default.svc/openid/v1/jwks"
	jwks, err := k8sauth.FetchJWKS(context.Background(), k8sauth.JWKSFetchConfig{URL: jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetching cluster JWKS: %w", err)
	}
	verifier, err := k8sauth.NewJWTVerifier(jwks, cfg.Hostname)
	if err != nil {
		return nil, fmt.Errorf("building JWT verifier: %w", err)
	}
	srv, err := k8sauth.NewServer(mgr, verifier)
	if err != nil {
		return nil, fmt.Errorf("creating k8s auth server: %w", err)
	}
	go func() {
		addr := fmt.Sprintf(":%d", cfg.K8s.AuthServerPort)
		if err := srv.Start(addr); err != nil {
			errCh <- fmt.Errorf("k8s auth server: %w", err)
		}
	}()
	return srv, nil
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print this instance's configuration and entity ID without starting the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		eid := serviceIDFromBytes(cfg.ID)
		fmt.Printf("entity id:    %s\n", eid.String())
		fmt.Printf("hostname:     %s\n", cfg.Hostname)
		fmt.Printf("data dir:     %s\n", cfg.DataDir)
		fmt.Printf("server port:  %d\n", cfg.ServerPort)
		fmt.Printf("k8s enabled:  %t\n", cfg.K8s.Enabled)
		return nil
	},
}
