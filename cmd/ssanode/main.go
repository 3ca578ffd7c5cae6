package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fabricssa/ssanode/internal/noded"
	"github.com/fabricssa/ssanode/internal/smdb"
	"github.com/fabricssa/ssanode/internal/transport"
	"github.com/fabricssa/ssanode/pkg/config"
	"github.com/fabricssa/ssanode/pkg/health"
	"github.com/fabricssa/ssanode/pkg/logger"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var (
	bindAddr    = flag.String("bind", "127.0.0.1", "Address this node's downstream listeners bind to")
	dbID        = flag.Uint64("dbid", 1, "Logical database id this service carries")
	roleFlag    = flag.String("role", "distribution", "Node role: core, distribution, access, or consumer")
	dbFile      = flag.String("dbfile", "", "Path to an on-disk database to load at startup (core role only)")
	versionFlag = flag.Bool("version", false, "Show version information and exit")
)

func printVersionInfo() {
	fmt.Printf("ssanode %s (build %s)\n", Version, BuildTime)
	fmt.Printf("Git commit: %s\n", GitCommit)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func parseRole(s string) (noded.Role, error) {
	switch s {
	case "core":
		return noded.RoleCore, nil
	case "distribution":
		return noded.RoleDistribution, nil
	case "access":
		return noded.RoleAccess, nil
	case "consumer":
		return noded.RoleConsumer, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func main() {
	flag.Parse()

	if *versionFlag {
		printVersionInfo()
		os.Exit(0)
	}

	log := logger.New("ssanode", Version)

	role, err := parseRole(*roleFlag)
	if err != nil {
		log.Fatalf("invalid -role: %v", err)
	}

	node := &Node{
		logger: log,
		config: config.New(),
		health: health.NewChecker(),
	}

	if err := node.run(role, *dbFile); err != nil {
		log.Fatalf("node exited: %v", err)
	}
}

// Node wires one fabric port and one Service for the duration of the
// process, the way the corpus's own service entrypoints hold their
// top-level dependencies on a single struct rather than in package
// globals.
type Node struct {
	logger  *logger.Logger
	config  *config.Config
	health  *health.Checker
	port    *noded.PortState
	ctrl    *noded.Ctrl
	service *noded.Service
}

func (n *Node) run(role noded.Role, dbFile string) error {
	n.logger.Infof("starting ssanode (role=%v, bind=%s, dbid=%d)", role, *bindAddr, *dbID)

	mad := transport.NewFakeMADTransport()

	n.port = &noded.PortState{}
	n.ctrl = noded.NewCtrl(n.port, mad)

	n.service = noded.NewService(n.port, 0, *dbID, role, n.logger)
	n.service.Config = n.config
	n.service.HealthChecker = n.health
	n.service.MAD = mad
	n.service.Dialer = transport.TCPDialer{Resolve: staticResolver(*bindAddr)}
	n.service.Listener = func(port transport.WellKnownPort) (transport.StreamListener, error) {
		return transport.ListenTCP(*bindAddr, port)
	}
	n.service.Derived = identityDerivedDB{}

	if dbFile != "" {
		db, err := smdb.LoadFromFile(dbFile)
		if err != nil {
			return fmt.Errorf("ssanode: load %s: %w", dbFile, err)
		}
		n.logger.Infof("loaded on-disk database: epoch=%d nodes=%d links=%d", db.Epoch(), len(db.Node), len(db.Link))
		n.health.RunCheck("index.build", func() error {
			_, err := smdb.Build(db)
			return err
		})
	}

	ctrlStop := make(chan struct{})
	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- n.ctrl.Run(ctrlStop) }()

	if err := n.service.Start(); err != nil {
		close(ctrlStop)
		return fmt.Errorf("ssanode: start service: %w", err)
	}

	n.ctrl.NotifyDeviceEvent(noded.CtrlDevEventPayload{
		Kind:  noded.DevEventPortActive,
		SMLID: 1,
		SMSL:  0,
	})

	n.health.RunCheck("service.wiring", n.service.Validate)
	n.logger.Info("ssanode started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		n.logger.Info("received shutdown signal")
	case err := <-ctrlDone:
		if err != nil {
			n.logger.Errorf("ctrl worker exited: %v", err)
		}
	}

	return n.shutdown(ctrlStop)
}

func (n *Node) shutdown(ctrlStop chan struct{}) error {
	n.logger.Info("stopping service workers")
	n.service.Stop()
	close(ctrlStop)

	time.Sleep(100 * time.Millisecond)
	n.logger.Info("ssanode shutdown complete")
	return nil
}

// staticResolver stands in for the real fabric-GID-to-address lookup a
// subnet administrator connection would supply (§1 out of scope): every
// GID resolves to the same bind address, since the demo topology runs a
// single node.
func staticResolver(addr string) transport.AddressResolver {
	return func(gid [16]byte) (string, error) {
		return addr, nil
	}
}

// identityDerivedDB is a DerivedDBComputer that hands each consumer the
// parent database unchanged, standing in for a real per-consumer
// filtering policy (§1: the derived-database computation's concrete
// rules are out of scope; only the interface it satisfies is specified).
type identityDerivedDB struct{}

func (identityDerivedDB) Compute(parent *smdb.Database, consumerGID [16]byte) (*smdb.Database, error) {
	if parent == nil {
		return nil, fmt.Errorf("noded: no parent database published yet")
	}
	return parent, nil
}
