package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/go-onion/lib/config"
	"github.com/go-i2p/go-onion/lib/crypto"
	"github.com/go-i2p/go-onion/lib/keys"
	"github.com/go-i2p/go-onion/lib/message"
	"github.com/go-i2p/go-onion/lib/peers"
	"github.com/go-i2p/go-onion/lib/transport/udp"
	"github.com/go-i2p/go-onion/lib/tunnel"
	"github.com/go-i2p/go-onion/lib/util"
	"github.com/go-i2p/go-onion/lib/util/signals"
	"github.com/go-i2p/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var log = logger.GetGoI2PLogger()

// Version is set at build time
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "go-onion",
		Short: "Onion routing tunnel node",
		Long: `go-onion builds layered-encryption circuits over UDP, relays cells
for other nodes and optionally exits traffic to the public network.`,
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.go-onion/config.yaml)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a tunnel node",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.InitConfig()
			signals.SetGracefulTimeout(shutdownTimeout)
			return runNode(config.CurrentConfig())
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to wait for circuits to be torn down on exit")
	return cmd
}

func configCmd() *cobra.Command {
	var defaults bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if defaults {
				return config.WriteYAML(cmd.OutOrStdout(), config.Defaults())
			}
			config.InitConfig()
			return config.WriteYAML(cmd.OutOrStdout(), config.CurrentConfig())
		},
	}
	cmd.Flags().BoolVar(&defaults, "defaults", false, "print built-in defaults without reading a config file")
	return cmd
}

func keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the node key if missing and print its public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, created, err := keys.NewNodeKeystore(out)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.ErrOrStderr(), "key already exists at %s\n", out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(ks.KeyPair().Public.Bytes()))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", config.Defaults().Node.KeyFile, "key file to create")
	return cmd
}

func parsePrefix(s string) (message.Prefix, error) {
	var p message.Prefix
	b, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("node prefix: %w", err)
	}
	if len(b) != message.PrefixSize {
		return p, fmt.Errorf("node prefix must be %d bytes, got %d", message.PrefixSize, len(b))
	}
	copy(p[:], b)
	return p, nil
}

func udpExitDialer(_ tunnel.CircuitID, deliver func(netip.AddrPort, []byte)) (tunnel.ExitTransport, error) {
	ep, err := udp.OpenExit(deliver)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics endpoint stopped")
		}
	}()
	return srv
}

func runNode(cfg config.ConfigDefaults) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	ks, created, err := keys.NewNodeKeystore(cfg.Node.KeyFile)
	if err != nil {
		return err
	}
	tc, err := crypto.NewTunnelCrypto(ks.KeyPair())
	if err != nil {
		return err
	}
	prefix, err := parsePrefix(cfg.Node.Prefix)
	if err != nil {
		return err
	}
	dir, err := peers.FromConfig(cfg.Node.Peers)
	if err != nil {
		return err
	}

	// Packets may arrive before the engine exists.
	var engine atomic.Pointer[tunnel.Engine]
	ep, err := udp.Listen(cfg.Node.ListenAddress, func(src netip.AddrPort, data []byte) {
		if e := engine.Load(); e != nil {
			e.HandlePacket(src, data)
		}
	})
	if err != nil {
		return err
	}
	util.RegisterCloser(ep)

	opts := []tunnel.Option{
		tunnel.WithPrefix(prefix),
		tunnel.WithExitDialer(udpExitDialer),
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		opts = append(opts, tunnel.WithMetrics(tunnel.NewMetricsWithRegistry(reg, cfg.Metrics.Namespace)))
		util.RegisterCloser(serveMetrics(cfg.Metrics.ListenAddress, reg))
	}

	e := tunnel.New(cfg.Tunnel, tc, ep, dir, opts...)
	engine.Store(e)
	dir.Announce(e)
	e.Start()
	e.BuildTunnels(cfg.Node.Hops)

	fmt.Println(renderSummary("go-onion node", [][2]string{
		{"public key", hex.EncodeToString(tc.PublicKey())},
		{"key file", keyFileLabel(ks.Path(), created)},
		{"listening", ep.Addr().String()},
		{"static peers", fmt.Sprint(dir.Len())},
		{"hops", fmt.Sprint(cfg.Node.Hops)},
		{"exit node", fmt.Sprint(cfg.Tunnel.BecomeExitNode)},
		{"metrics", metricsLabel(cfg.Metrics)},
	}))

	done := make(chan struct{})
	var once sync.Once
	signals.RegisterPreShutdownHandler(e.Stop)
	interruptID := signals.RegisterInterruptHandler(func() { once.Do(func() { close(done) }) })
	defer signals.DeregisterInterruptHandler(interruptID)
	reloadID := signals.RegisterReloadHandler(func() {
		s := e.Stats()
		log.WithFields(logger.Fields{
			"at":             "runNode",
			"circuits":       s.Circuits,
			"ready":          s.ReadyCircuits,
			"relays":         s.Relays,
			"exit_sockets":   s.ExitSockets,
			"tunnels_ready":  e.TunnelsReady(cfg.Node.Hops),
			"exit_candidate": s.ExitCandidates,
		}).Info("status")
	})
	defer signals.DeregisterReloadHandler(reloadID)
	go signals.Handle()

	<-done
	signals.StopHandle()
	if failed := util.CloseAll(); failed > 0 {
		return fmt.Errorf("%d resources failed to close", failed)
	}
	return nil
}

func keyFileLabel(path string, created bool) string {
	if created {
		return path + " (new)"
	}
	return path
}

func metricsLabel(m config.MetricsDefaults) string {
	if !m.Enabled {
		return "disabled"
	}
	return "http://" + m.ListenAddress + "/metrics"
}
