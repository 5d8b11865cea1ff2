package config

import (
	"os"
	"path/filepath"

	"github.com/go-i2p/go-onion/lib/util"
	"github.com/go-i2p/logger"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const GOONION_BASE_DIR = ".go-onion"

func InitConfig() {
	if CfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(CfgFile)
	} else {
		// Set up viper to use the default config path $HOME/.go-onion/
		viper.AddConfigPath(BuildOnionDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Load defaults
	setDefaults()

	// handle config file creating it if needed
	handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	// Node defaults
	viper.SetDefault("node.listen_address", d.Node.ListenAddress)
	viper.SetDefault("node.key_file", d.Node.KeyFile)
	viper.SetDefault("node.prefix", d.Node.Prefix)
	viper.SetDefault("node.peers", []PeerEntry{})
	viper.SetDefault("node.hops", d.Node.Hops)

	// Tunnel defaults
	viper.SetDefault("tunnel.max_circuits", d.Tunnel.MaxCircuits)
	viper.SetDefault("tunnel.max_joined_circuits", d.Tunnel.MaxJoinedCircuits)
	viper.SetDefault("tunnel.max_time", d.Tunnel.MaxTime)
	viper.SetDefault("tunnel.max_time_inactive", d.Tunnel.MaxTimeInactive)
	viper.SetDefault("tunnel.max_traffic", d.Tunnel.MaxTraffic)
	viper.SetDefault("tunnel.circuit_timeout", d.Tunnel.CircuitTimeout)
	viper.SetDefault("tunnel.unstable_timeout", d.Tunnel.UnstableTimeout)
	viper.SetDefault("tunnel.next_hop_timeout", d.Tunnel.NextHopTimeout)
	viper.SetDefault("tunnel.remove_tunnel_delay", d.Tunnel.RemoveTunnelDelay)
	viper.SetDefault("tunnel.become_exit_node", d.Tunnel.BecomeExitNode)
	viper.SetDefault("tunnel.maintenance_interval", d.Tunnel.MaintenanceInterval)
	viper.SetDefault("tunnel.ping_interval", d.Tunnel.PingInterval)
	viper.SetDefault("tunnel.ping_timeout", d.Tunnel.PingTimeout)
	viper.SetDefault("tunnel.max_offered_candidates", d.Tunnel.MaxOfferedCandidates)
	viper.SetDefault("tunnel.per_source_rate_limit_enabled", d.Tunnel.PerSourceRateLimitEnabled)
	viper.SetDefault("tunnel.max_create_requests_per_minute", d.Tunnel.MaxCreateRequestsPerMinute)
	viper.SetDefault("tunnel.create_request_burst_size", d.Tunnel.CreateRequestBurstSize)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", d.Metrics.Enabled)
	viper.SetDefault("metrics.listen_address", d.Metrics.ListenAddress)
	viper.SetDefault("metrics.namespace", d.Metrics.Namespace)
}

// CurrentConfig returns the effective configuration from viper.
func CurrentConfig() ConfigDefaults {
	return ConfigDefaults{
		Node:    NewNodeConfigFromViper(),
		Tunnel:  NewTunnelConfigFromViper(),
		Metrics: NewMetricsConfigFromViper(),
	}
}

// NewNodeConfigFromViper reads the node section from current viper settings.
func NewNodeConfigFromViper() NodeDefaults {
	var peers []PeerEntry
	if err := viper.UnmarshalKey("node.peers", &peers); err != nil {
		log.Warnf("Error parsing static peers: %s", err)
		peers = []PeerEntry{}
	}
	return NodeDefaults{
		ListenAddress: viper.GetString("node.listen_address"),
		KeyFile:       viper.GetString("node.key_file"),
		Prefix:        viper.GetString("node.prefix"),
		Peers:         peers,
		Hops:          viper.GetInt("node.hops"),
	}
}

// NewTunnelConfigFromViper reads the tunnel section from current viper settings.
func NewTunnelConfigFromViper() TunnelDefaults {
	return TunnelDefaults{
		MaxCircuits:                viper.GetInt("tunnel.max_circuits"),
		MaxJoinedCircuits:          viper.GetInt("tunnel.max_joined_circuits"),
		MaxTime:                    viper.GetDuration("tunnel.max_time"),
		MaxTimeInactive:            viper.GetDuration("tunnel.max_time_inactive"),
		MaxTraffic:                 viper.GetUint64("tunnel.max_traffic"),
		CircuitTimeout:             viper.GetDuration("tunnel.circuit_timeout"),
		UnstableTimeout:            viper.GetDuration("tunnel.unstable_timeout"),
		NextHopTimeout:             viper.GetDuration("tunnel.next_hop_timeout"),
		RemoveTunnelDelay:          viper.GetDuration("tunnel.remove_tunnel_delay"),
		BecomeExitNode:             viper.GetBool("tunnel.become_exit_node"),
		MaintenanceInterval:        viper.GetDuration("tunnel.maintenance_interval"),
		PingInterval:               viper.GetDuration("tunnel.ping_interval"),
		PingTimeout:                viper.GetDuration("tunnel.ping_timeout"),
		MaxOfferedCandidates:       viper.GetInt("tunnel.max_offered_candidates"),
		PerSourceRateLimitEnabled:  viper.GetBool("tunnel.per_source_rate_limit_enabled"),
		MaxCreateRequestsPerMinute: viper.GetInt("tunnel.max_create_requests_per_minute"),
		CreateRequestBurstSize:     viper.GetInt("tunnel.create_request_burst_size"),
	}
}

// NewMetricsConfigFromViper reads the metrics section from current viper settings.
func NewMetricsConfigFromViper() MetricsDefaults {
	return MetricsDefaults{
		Enabled:       viper.GetBool("metrics.enabled"),
		ListenAddress: viper.GetString("metrics.listen_address"),
		Namespace:     viper.GetString("metrics.namespace"),
	}
}

func createDefaultConfig(defaultConfigDir string) {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	// Ensure directory exists
	if err := os.MkdirAll(defaultConfigDir, 0o700); err != nil {
		log.Fatalf("Could not create config directory: %s", err)
	}

	if err := viper.SafeWriteConfigAs(defaultConfigFile); err != nil {
		log.Fatalf("Could not write default config file: %s", err)
	}

	log.Debugf("Created default configuration at: %s", defaultConfigFile)
}

func handleConfigFile() {
	if CfgFile != "" && !util.CheckFileExists(CfgFile) {
		log.Fatalf("Config file %s is not found", CfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if CfgFile != "" {
				log.Fatalf("Config file %s is not found: %s", CfgFile, err)
			} else {
				createDefaultConfig(BuildOnionDirPath())
			}
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	} else {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

func BuildOnionDirPath() string {
	return filepath.Join(util.UserHome(), GOONION_BASE_DIR)
}
