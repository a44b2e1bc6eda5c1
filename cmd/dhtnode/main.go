// Command dhtnode runs a standalone DHT node: it joins the network from a
// list of bootstrap hosts (or a persisted peer seed file), optionally maps
// its UDP port via UPnP/NAT-PMP, and serves ping/store/findNode/findValue
// requests until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/lbryio/go-dht/dht"
	"github.com/lbryio/go-dht/dht/natutil"
	"github.com/lbryio/go-dht/internal/glog"
)

var (
	listenAddr  = flag.String("addr", ":4444", "UDP listen address")
	externalIP  = flag.String("externalip", "", "externally reachable IP (required unless -nat discovers one)")
	externalTCP = flag.Int("tcpport", 3333, "externally reachable TCP port advertised to store()")
	bootstrap   = flag.String("bootstrap", "", "comma-separated host:port bootstrap list")
	seedFile    = flag.String("seeds", "", "path to a leveldb peer-seed database (optional)")
	natDesc     = flag.String("nat", "none", "port mapping mechanism (any|none|upnp|pmp|extip:<IP>)")
	verbosity   = flag.Int("verbosity", int(glog.Info), "log verbosity (0=error .. 3=detail)")
)

func fatalf(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, color.RedString(format, args...))
	os.Exit(1)
}

func parseBootstrap(s string) []dht.BootstrapHost {
	if s == "" {
		return nil
	}
	var hosts []dht.BootstrapHost
	for _, entry := range strings.Split(s, ",") {
		host, portStr, err := net.SplitHostPort(strings.TrimSpace(entry))
		if err != nil {
			fatalf("invalid bootstrap entry %q: %v", entry, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			fatalf("invalid bootstrap port in %q: %v", entry, err)
		}
		hosts = append(hosts, dht.BootstrapHost{Host: host, Port: port})
	}
	return hosts
}

func main() {
	flag.Parse()
	glog.SetVerbosity(glog.Level(*verbosity))

	addr, err := net.ResolveUDPAddr("udp", *listenAddr)
	if err != nil {
		fatalf("resolving -addr: %v", err)
	}

	nat, err := natutil.Parse(*natDesc)
	if err != nil {
		fatalf("parsing -nat: %v", err)
	}

	var extIP net.IP
	if *externalIP != "" {
		extIP = net.ParseIP(*externalIP)
		if extIP == nil {
			fatalf("invalid -externalip %q", *externalIP)
		}
	}

	var seedStore dht.SeedStore
	if *seedFile != "" {
		store, err := dht.OpenLevelDBSeedStore(*seedFile)
		if err != nil {
			fatalf("opening -seeds database: %v", err)
		}
		defer store.Close()
		seedStore = store
	}

	node, err := dht.NewNode(dht.NodeConfig{
		ListenAddr:      addr,
		ExternalIP:      extIP,
		ExternalTCPPort: *externalTCP,
		BootstrapHosts:  parseBootstrap(*bootstrap),
		SeedStore:       seedStore,
		NAT:             nat,
	})
	if err != nil {
		fatalf("creating node: %v", err)
	}

	color.Cyan("go-dht node %s listening on %s", node.ID(), node.LocalAddr())

	ctx, cancel := context.WithCancel(context.Background())
	if err := node.Join(ctx); err != nil {
		fatalf("joining: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	color.Yellow("shutting down...")
	cancel()
	if err := node.Stop(); err != nil {
		fatalf("stopping: %v", err)
	}
}
