package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-iptables/iptables"
	"github.com/spf13/cobra"

	"github.com/polisproject/polisd/pkg/api"
	"github.com/polisproject/polisd/pkg/auth"
	"github.com/polisproject/polisd/pkg/bridgemgr"
	"github.com/polisproject/polisd/pkg/buildcache"
	"github.com/polisproject/polisd/pkg/builder"
	"github.com/polisproject/polisd/pkg/dns"
	"github.com/polisproject/polisd/pkg/events"
	"github.com/polisproject/polisd/pkg/firewall"
	"github.com/polisproject/polisd/pkg/imagestore"
	"github.com/polisproject/polisd/pkg/ipam"
	"github.com/polisproject/polisd/pkg/log"
	"github.com/polisproject/polisd/pkg/portforward"
	"github.com/polisproject/polisd/pkg/runtime"
	"github.com/polisproject/polisd/pkg/security"
	"github.com/polisproject/polisd/pkg/stats"
	"github.com/polisproject/polisd/pkg/volume"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes, per the daemon's external contract: 0 clean shutdown,
// 1 startup failure, 2 configuration error, 3 runtime initialization
// failure (containerd unreachable, store unwritable, ...).
const (
	exitOK = iota
	exitStartupFailure
	exitConfigError
	exitRuntimeInitFailure
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStartupFailure)
	}
}

var rootCmd = &cobra.Command{
	Use:   "polisd",
	Short: "polisd - single-node container platform daemon",
	Long: `polisd creates, runs, and tears down containers on a single host:
image pulls and builds, IP allocation, bridge networking, firewall and
port-forwarding rules, an embedded DNS resolver, per-container security
profiles, and a REST+RPC API, all in one process.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"polisd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.Flags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.String("rest-addr", "127.0.0.1:7780", "REST API listen address")
	flags.String("rpc-addr", "127.0.0.1:7781", "grpc RPC listen address")
	flags.String("store-root", "/var/lib/polisd", "Root directory for image, volume, and build cache storage")
	flags.String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
	flags.String("cgroup-root", "/sys/fs/cgroup/polisd", "Cgroup (v1 hierarchy) path for container resource limits")
	flags.String("dns-listen-addr", dns.DefaultListenAddr, "Embedded DNS resolver listen address")
	flags.String("jwt-secret", "", "HMAC secret for session tokens (generated if empty)")
	flags.String("admin-password", "", "Initial admin password (built-in default if empty)")
	flags.Duration("stats-interval", stats.DefaultInterval, "Container/system stats sampling interval")
	flags.Duration("shutdown-grace", 10*time.Second, "Grace period for container stop on shutdown")

	cobra.OnInitialize(func() {
		level, _ := flags.GetString("log-level")
		jsonOutput, _ := flags.GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	restAddr, _ := flags.GetString("rest-addr")
	rpcAddr, _ := flags.GetString("rpc-addr")
	storeRoot, _ := flags.GetString("store-root")
	containerdSocket, _ := flags.GetString("containerd-socket")
	cgroupRoot, _ := flags.GetString("cgroup-root")
	dnsListenAddr, _ := flags.GetString("dns-listen-addr")
	jwtSecret, _ := flags.GetString("jwt-secret")
	adminPassword, _ := flags.GetString("admin-password")
	statsInterval, _ := flags.GetDuration("stats-interval")
	shutdownGrace, _ := flags.GetDuration("shutdown-grace")

	logger := log.WithComponent("main")

	if jwtSecret == "" {
		logger.Warn().Msg("no --jwt-secret given, sessions will not survive a restart")
		jwtSecret = generateSecret()
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	images, err := imagestore.NewManager(storeRoot+"/images", imagestore.DefaultRegistryConfig())
	if err != nil {
		return fmt.Errorf("image store: %w", err)
	}

	volumes, err := volume.NewManager(storeRoot + "/volumes")
	if err != nil {
		return fmt.Errorf("volume manager: %w", err)
	}

	ipamMgr := ipam.NewManager()
	bridge := bridgemgr.NewManager()

	ipt, err := iptables.New()
	if err != nil {
		logger.Error().Err(err).Msg("iptables unavailable")
		os.Exit(exitRuntimeInitFailure)
	}
	fw, err := firewall.NewManager(ipt)
	if err != nil {
		return fmt.Errorf("firewall manager: %w", err)
	}
	pf := portforward.NewManager(ipt)

	dnsMgr := dns.NewManager()
	dnsServer := dns.NewServer(dnsMgr, &dns.Config{ListenAddr: dnsListenAddr})
	dnsCtx, cancelDNS := context.WithCancel(context.Background())
	defer cancelDNS()
	go func() {
		if err := dnsServer.Start(dnsCtx); err != nil {
			logger.Error().Err(err).Msg("dns: server stopped")
		}
	}()
	defer func() {
		if err := dnsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("dns: stop failed")
		}
	}()

	sec := security.NewManager(cgroupRoot)

	authMgr, err := auth.NewManager(jwtSecret, adminPassword)
	if err != nil {
		return fmt.Errorf("auth manager: %w", err)
	}
	if err := seedAdminRole(authMgr); err != nil {
		return fmt.Errorf("seed admin role: %w", err)
	}

	driver, err := runtime.NewContainerdDriver(containerdSocket, storeRoot+"/logs")
	if err != nil {
		logger.Error().Err(err).Msg("containerd driver unavailable")
		os.Exit(exitRuntimeInitFailure)
	}

	rt := runtime.New(driver, images, ipamMgr, bridge, fw, pf, dnsMgr, sec, volumes, broker)
	if err := rt.Initialize(); err != nil {
		return fmt.Errorf("runtime init: %w", err)
	}

	cache, err := buildcache.New(storeRoot+"/build-cache", buildcache.DefaultMaxSize)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	bld := builder.New(cache, images)

	cgroups := sec.Cgroups
	collector := stats.New(rt, cgroups, images, statsInterval)
	collector.Start()
	defer collector.Stop()

	server := api.NewServer(rt, images, authMgr, bld, collector, Version)
	rpcServer := api.NewRPCServer(server)

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.ListenAndServe(restAddr)
	}()
	go func() {
		lis, err := net.Listen("tcp", rpcAddr)
		if err != nil {
			errCh <- fmt.Errorf("rpc listen: %w", err)
			return
		}
		logger.Info().Str("addr", rpcAddr).Msg("rpc: listening")
		errCh <- rpcServer.Serve(lis)
	}()

	logger.Info().Str("rest_addr", restAddr).Str("rpc_addr", rpcAddr).Msg("polisd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	rpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, c := range rt.ListContainers(runtime.ListFilter{}) {
		if err := rt.StopContainer(shutdownCtx, c.ID, shutdownGrace); err != nil {
			logger.Warn().Str("container", c.ID.String()).Err(err).Msg("stop on shutdown failed")
		}
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// allPermissions lists every permission string the API declares, so
// the seeded admin role can exercise all of them.
var allPermissions = []string{
	api.PermContainersRead, api.PermContainersWrite, api.PermContainersDelete,
	api.PermImagesRead, api.PermImagesWrite, api.PermImagesDelete,
	api.PermSystemRead, api.PermSystemAdmin,
	api.PermAuthRead, api.PermAuthWrite,
}

func seedAdminRole(authMgr *auth.Manager) error {
	if _, err := authMgr.Roles().CreateRole("admin", allPermissions); err != nil {
		return err
	}
	admin, err := authMgr.Users().GetUserByUsername("admin")
	if err != nil {
		return err
	}
	return authMgr.Roles().AssignRole(admin.ID, "admin")
}

func generateSecret() string {
	return fmt.Sprintf("polisd-dev-secret-%d", time.Now().UnixNano())
}
