package config

import (
	"path/filepath"
	"time"

	"github.com/go-i2p/logger"
)

// ConfigDefaults contains all default configuration values for a go-onion node.
type ConfigDefaults struct {
	// Node identity and overlay endpoint
	Node NodeDefaults `yaml:"node"`

	// Tunnel engine policy knobs
	Tunnel TunnelDefaults `yaml:"tunnel"`

	// Prometheus endpoint
	Metrics MetricsDefaults `yaml:"metrics"`
}

// PeerEntry is one statically configured overlay peer.
type PeerEntry struct {
	// PublicKey is the peer's hex encoded X25519 static key
	PublicKey string `yaml:"public_key" mapstructure:"public_key"`

	// Address is host:port of the peer's overlay endpoint
	Address string `yaml:"address" mapstructure:"address"`

	// Exit marks a peer known to accept exit traffic
	Exit bool `yaml:"exit" mapstructure:"exit"`
}

// NodeDefaults contains default values for the local node
type NodeDefaults struct {
	// ListenAddress is the UDP address of the overlay endpoint
	// Default: 0.0.0.0:7760
	ListenAddress string `yaml:"listen_address"`

	// KeyFile holds the hex encoded static X25519 private key
	// Default: $HOME/.go-onion/node.key
	KeyFile string `yaml:"key_file"`

	// Prefix is the 4-byte overlay prefix, hex encoded
	// Default: "6f6e696f"
	Prefix string `yaml:"prefix"`

	// Peers is the static peer list used instead of discovery
	// Default: empty
	Peers []PeerEntry `yaml:"peers"`

	// Hops is the circuit length requested by `run`
	// Default: 3
	Hops int `yaml:"hops"`
}

// TunnelDefaults contains default values for the tunnel engine
type TunnelDefaults struct {
	// MaxCircuits is the number of data circuits wanted per requested hop count
	// Default: 8
	MaxCircuits int `yaml:"max_circuits"`

	// MaxJoinedCircuits caps relay routes plus exit sockets held for others
	// Default: 100
	MaxJoinedCircuits int `yaml:"max_joined_circuits"`

	// MaxTime is the maximum lifetime of any circuit, relay or exit socket
	// Default: 10 minutes
	MaxTime time.Duration `yaml:"max_time"`

	// MaxTimeInactive removes anything idle for longer than this
	// Default: 20 seconds
	MaxTimeInactive time.Duration `yaml:"max_time_inactive"`

	// MaxTraffic is the byte ceiling (up + down) per circuit, relay or exit
	// Default: 250 MiB
	MaxTraffic uint64 `yaml:"max_traffic"`

	// CircuitTimeout bounds how long a circuit may stay in EXTENDING
	// Default: 30 seconds
	CircuitTimeout time.Duration `yaml:"circuit_timeout"`

	// UnstableTimeout is how long a joined hop waits for an EXTEND
	// Default: 60 seconds
	UnstableTimeout time.Duration `yaml:"unstable_timeout"`

	// NextHopTimeout is the per-hop retry timeout
	// Default: 10 seconds
	NextHopTimeout time.Duration `yaml:"next_hop_timeout"`

	// RemoveTunnelDelay is the grace period between teardown and purge
	// Default: 5 seconds
	RemoveTunnelDelay time.Duration `yaml:"remove_tunnel_delay"`

	// BecomeExitNode allows non-overlay traffic to leave through this node
	// Default: false
	BecomeExitNode bool `yaml:"become_exit_node"`

	// MaintenanceInterval is how often circuit demand and pruning are evaluated
	// Default: 5 seconds
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	// PingInterval is how often circuits are pinged
	// Default: 15 seconds
	PingInterval time.Duration `yaml:"ping_interval"`

	// PingTimeout is how long a ping entry stays pending
	// Default: 20 seconds
	PingTimeout time.Duration `yaml:"ping_timeout"`

	// MaxOfferedCandidates bounds the candidate list sent in CREATED
	// Default: 4
	MaxOfferedCandidates int `yaml:"max_offered_candidates"`

	// PerSourceRateLimitEnabled throttles CREATE requests per previous hop
	// Default: true
	PerSourceRateLimitEnabled bool `yaml:"per_source_rate_limit_enabled"`

	// MaxCreateRequestsPerMinute is the sustained CREATE rate per source
	// Default: 120
	MaxCreateRequestsPerMinute int `yaml:"max_create_requests_per_minute"`

	// CreateRequestBurstSize is the burst allowance per source
	// Default: 20
	CreateRequestBurstSize int `yaml:"create_request_burst_size"`
}

// MetricsDefaults contains default values for the metrics endpoint
type MetricsDefaults struct {
	// Enabled starts the /metrics HTTP endpoint
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the HTTP listen address
	// Default: 127.0.0.1:9108
	ListenAddress string `yaml:"listen_address"`

	// Namespace prefixes every metric name
	// Default: "onion"
	Namespace string `yaml:"namespace"`
}

// Defaults returns a ConfigDefaults instance with all default values set.
func Defaults() ConfigDefaults {
	return ConfigDefaults{
		Node:    buildNodeDefaults(BuildOnionDirPath()),
		Tunnel:  buildTunnelDefaults(),
		Metrics: buildMetricsDefaults(),
	}
}

// buildNodeDefaults creates default node configuration values.
func buildNodeDefaults(baseDir string) NodeDefaults {
	return NodeDefaults{
		ListenAddress: "0.0.0.0:7760",
		KeyFile:       filepath.Join(baseDir, "node.key"),
		Prefix:        "6f6e696f",
		Peers:         []PeerEntry{},
		Hops:          3,
	}
}

// buildTunnelDefaults creates default tunnel engine configuration values.
func buildTunnelDefaults() TunnelDefaults {
	return TunnelDefaults{
		MaxCircuits:          8,
		MaxJoinedCircuits:    100,
		MaxTime:              10 * time.Minute,
		MaxTimeInactive:      20 * time.Second,
		MaxTraffic:           250 * 1024 * 1024,
		CircuitTimeout:       30 * time.Second,
		UnstableTimeout:      60 * time.Second,
		NextHopTimeout:       10 * time.Second,
		RemoveTunnelDelay:    5 * time.Second,
		BecomeExitNode:       false,
		MaintenanceInterval:  5 * time.Second,
		PingInterval:         15 * time.Second,
		PingTimeout:          20 * time.Second,
		MaxOfferedCandidates: 4,
		// Admission protection
		PerSourceRateLimitEnabled:  true,
		MaxCreateRequestsPerMinute: 120,
		CreateRequestBurstSize:     20,
	}
}

// buildMetricsDefaults creates default metrics configuration values.
func buildMetricsDefaults() MetricsDefaults {
	return MetricsDefaults{
		Enabled:       false,
		ListenAddress: "127.0.0.1:9108",
		Namespace:     "onion",
	}
}

// Validate checks if the provided configuration values are reasonable.
// Returns an error describing the first invalid value found.
func Validate(cfg ConfigDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "verification_requested",
	}).Debug("validating configuration")
	return runConfigValidators(cfg)
}

// runConfigValidators executes all configuration validators in sequence.
func runConfigValidators(cfg ConfigDefaults) error {
	validators := []func() error{
		func() error { return validateNode(cfg.Node) },
		func() error { return validateTunnel(cfg.Tunnel) },
		func() error { return validateMetrics(cfg.Metrics) },
	}

	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "all_validators_passed",
	}).Debug("all configuration validations passed")
	return nil
}

func validateNode(node NodeDefaults) error {
	if node.ListenAddress == "" {
		return newValidationError("Node.ListenAddress must not be empty")
	}
	if len(node.Prefix) != 8 {
		log.WithField("prefix", node.Prefix).Error("Invalid node configuration")
		return newValidationError("Node.Prefix must be 4 hex encoded bytes")
	}
	if node.Hops < 1 || node.Hops > 8 {
		log.WithField("hops", node.Hops).Error("Invalid node configuration")
		return newValidationError("Node.Hops must be between 1 and 8")
	}
	for _, p := range node.Peers {
		if p.PublicKey == "" || p.Address == "" {
			return newValidationError("Node.Peers entries need public_key and address")
		}
	}
	return nil
}

// validateTunnel validates tunnel engine configuration settings.
func validateTunnel(tunnel TunnelDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "validateTunnel",
		"reason": "validating_tunnel_settings",
		"phase":  "startup",
	}).Debug("validating tunnel configuration")

	if err := validateTunnelLimits(tunnel); err != nil {
		return err
	}
	if err := validateTunnelTimers(tunnel); err != nil {
		return err
	}
	return validateRateLimitSettings(tunnel)
}

// validateTunnelLimits checks circuit counts and traffic ceilings.
func validateTunnelLimits(tunnel TunnelDefaults) error {
	if tunnel.MaxCircuits < 1 {
		log.WithFields(logger.Fields{
			"at":               "validateTunnel",
			"reason":           "max_circuits_too_low",
			"max_circuits":     tunnel.MaxCircuits,
			"minimum_required": 1,
		}).Error("invalid tunnel configuration")
		return newValidationError("Tunnel.MaxCircuits must be at least 1")
	}
	// Zero is valid and means the node never joins circuits for others.
	if tunnel.MaxJoinedCircuits < 0 {
		return newValidationError("Tunnel.MaxJoinedCircuits must not be negative")
	}
	if tunnel.MaxTraffic == 0 {
		return newValidationError("Tunnel.MaxTraffic must be positive")
	}
	if tunnel.MaxOfferedCandidates < 1 {
		return newValidationError("Tunnel.MaxOfferedCandidates must be at least 1")
	}
	return nil
}

// validateTunnelTimers checks that every timer is positive and consistent.
func validateTunnelTimers(tunnel TunnelDefaults) error {
	timers := []struct {
		name  string
		value time.Duration
	}{
		{"Tunnel.MaxTime", tunnel.MaxTime},
		{"Tunnel.MaxTimeInactive", tunnel.MaxTimeInactive},
		{"Tunnel.CircuitTimeout", tunnel.CircuitTimeout},
		{"Tunnel.UnstableTimeout", tunnel.UnstableTimeout},
		{"Tunnel.NextHopTimeout", tunnel.NextHopTimeout},
		{"Tunnel.MaintenanceInterval", tunnel.MaintenanceInterval},
		{"Tunnel.PingInterval", tunnel.PingInterval},
		{"Tunnel.PingTimeout", tunnel.PingTimeout},
	}
	for _, timer := range timers {
		if timer.value <= 0 {
			log.WithFields(logger.Fields{
				"at":     "validateTunnel",
				"reason": "timer_not_positive",
				"field":  timer.name,
				"value":  timer.value,
			}).Error("invalid tunnel configuration")
			return newValidationError(timer.name + " must be positive")
		}
	}
	if tunnel.RemoveTunnelDelay < 0 {
		return newValidationError("Tunnel.RemoveTunnelDelay must not be negative")
	}
	if tunnel.MaxTimeInactive > tunnel.MaxTime {
		return newValidationError("Tunnel.MaxTimeInactive must not exceed Tunnel.MaxTime")
	}
	return nil
}

// validateRateLimitSettings checks per-source rate limiting settings when enabled.
func validateRateLimitSettings(tunnel TunnelDefaults) error {
	if !tunnel.PerSourceRateLimitEnabled {
		return nil
	}
	if tunnel.MaxCreateRequestsPerMinute < 1 {
		log.WithFields(logger.Fields{
			"at":                             "validateTunnel",
			"reason":                         "max_create_requests_per_minute_too_low",
			"max_create_requests_per_minute": tunnel.MaxCreateRequestsPerMinute,
			"minimum_required":               1,
		}).Error("invalid tunnel configuration")
		return newValidationError("Tunnel.MaxCreateRequestsPerMinute must be at least 1")
	}
	if tunnel.CreateRequestBurstSize < 1 {
		return newValidationError("Tunnel.CreateRequestBurstSize must be at least 1")
	}
	return nil
}

func validateMetrics(metrics MetricsDefaults) error {
	if !metrics.Enabled {
		return nil
	}
	if metrics.ListenAddress == "" {
		return newValidationError("Metrics.ListenAddress must not be empty when metrics are enabled")
	}
	return nil
}

// validationError is returned when configuration validation fails
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
