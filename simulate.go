package main

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-i2p/go-onion/lib/config"
	"github.com/go-i2p/go-onion/lib/crypto"
	"github.com/go-i2p/go-onion/lib/crypto/curve25519"
	"github.com/go-i2p/go-onion/lib/peers"
	"github.com/go-i2p/go-onion/lib/transport/memory"
	"github.com/go-i2p/go-onion/lib/tunnel"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
)

type simOptions struct {
	nodes    int
	exits    int
	hops     int
	circuits int
	timeout  time.Duration
}

func simulateCmd() *cobra.Command {
	var o simOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Build circuits across an in-process network and echo data through them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(o)
		},
	}
	cmd.Flags().IntVar(&o.nodes, "nodes", 6, "number of simulated nodes")
	cmd.Flags().IntVar(&o.exits, "exits", 2, "how many nodes act as exits")
	cmd.Flags().IntVar(&o.hops, "hops", 3, "circuit length")
	cmd.Flags().IntVar(&o.circuits, "circuits", 4, "circuits to build from the origin")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 10*time.Second, "per-circuit build and echo timeout")
	return cmd
}

type simReply struct {
	circuit tunnel.CircuitID
	data    []byte
}

func simulate(o simOptions) error {
	if o.nodes < o.hops+1 || o.exits < 1 || o.exits >= o.nodes {
		return errors.New("simulate needs more nodes than hops and at least one exit that is not the origin")
	}

	network := memory.NewNetwork()
	dir := peers.NewDirectory()
	replies := make(chan simReply, o.circuits)
	engines := make([]*tunnel.Engine, o.nodes)

	cfg := config.Defaults().Tunnel
	cfg.MaxCircuits = o.circuits
	for i := range engines {
		kp, err := curve25519.GenerateKeyPair()
		if err != nil {
			return err
		}
		tc, err := crypto.NewTunnelCrypto(kp)
		if err != nil {
			return err
		}
		host := netip.AddrFrom4([4]byte{10, 0, byte(i >> 8), byte(i + 1)})
		addr := netip.AddrPortFrom(host, 7760)
		idx := i
		ep, err := network.Attach(addr, func(src netip.AddrPort, data []byte) {
			engines[idx].HandlePacket(src, data)
		})
		if err != nil {
			return err
		}

		nodeCfg := cfg
		nodeCfg.BecomeExitNode = i < o.exits
		engines[i] = tunnel.New(nodeCfg, tc, ep, dir,
			tunnel.WithExitDialer(func(_ tunnel.CircuitID, deliver func(netip.AddrPort, []byte)) (tunnel.ExitTransport, error) {
				exit, err := network.OpenExit(host, deliver)
				if err != nil {
					return nil, err
				}
				return exit, nil
			}),
			tunnel.WithRawDataHandler(func(c tunnel.CircuitInfo, _ netip.AddrPort, data []byte) {
				select {
				case replies <- simReply{circuit: c.ID, data: data}:
				default:
				}
			}),
		)
		dir.Add(tunnel.Peer{PublicKey: tc.PublicKey(), Address: addr}, nodeCfg.BecomeExitNode)
	}
	for _, e := range engines {
		dir.Announce(e)
		e.Start()
	}
	defer func() {
		for _, e := range engines {
			e.Stop()
		}
	}()

	echoAddr := netip.MustParseAddrPort("192.0.2.1:7")
	var echo *memory.Endpoint
	echo, err := network.Attach(echoAddr, func(src netip.AddrPort, data []byte) {
		_ = echo.Send(src, data)
	})
	if err != nil {
		return err
	}

	origin := engines[o.nodes-1]
	start := time.Now()
	origin.BuildTunnels(o.hops)
	deadline := time.After(o.timeout)
	for origin.TunnelsReady(o.hops) < 1 {
		select {
		case <-deadline:
			return fmt.Errorf("only %.0f%% of circuits ready after %s", 100*origin.TunnelsReady(o.hops), o.timeout)
		case <-time.After(20 * time.Millisecond):
		}
	}
	buildTime := time.Since(start)

	echoed := 0
	var rtt time.Duration
	for _, c := range origin.ActiveDataCircuits(o.hops) {
		sent := time.Now()
		payload := []byte(fmt.Sprintf("hello from circuit %d", c.ID))
		if _, err := origin.SendData(c.ID, echoAddr, payload); err != nil {
			return err
		}
		select {
		case r := <-replies:
			if r.circuit == c.ID && string(r.data) == string(payload) {
				echoed++
				rtt += time.Since(sent)
			}
		case <-time.After(o.timeout):
			log.WithFields(logger.Fields{
				"at":         "simulate",
				"circuit_id": c.ID,
			}).Warn("no echo received")
		}
	}

	var relays, exits int
	var traffic uint64
	for _, e := range engines {
		s := e.Stats()
		relays += s.Relays
		exits += s.ExitSockets
		traffic += s.BytesUp + s.BytesDown
	}
	delivered, dropped := network.Stats()
	avg := time.Duration(0)
	if echoed > 0 {
		avg = rtt / time.Duration(echoed)
	}

	fmt.Println(renderSummary("simulation", [][2]string{
		{"nodes", fmt.Sprintf("%d (%d exits)", o.nodes, o.exits)},
		{"circuits ready", fmt.Sprintf("%d x %d hops in %s", len(origin.ActiveDataCircuits(o.hops)), o.hops, buildTime.Round(time.Millisecond))},
		{"echoed", fmt.Sprintf("%d, avg rtt %s", echoed, avg.Round(time.Microsecond))},
		{"relay routes", fmt.Sprint(relays)},
		{"exit sockets", fmt.Sprint(exits)},
		{"route traffic", humanize.IBytes(traffic)},
		{"packets", fmt.Sprintf("%s delivered, %s dropped", humanize.Comma(int64(delivered)), humanize.Comma(int64(dropped)))},
	}))
	return nil
}
