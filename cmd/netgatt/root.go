package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	gatt "github.com/xaionaro-go/netgatt"
	"github.com/xaionaro-go/netgatt/config"
	"github.com/xaionaro-go/netgatt/transport"
)

// app holds the global flags and the context built from them.
type app struct {
	ctx    context.Context
	cancel context.CancelFunc

	logLevel     logger.Level
	profilesPath string
	profileName  string

	network string
	address string
	timeout string
	mtu     string
	baud    int
}

func newRootCmd() *cobra.Command {
	a := &app{logLevel: logger.LevelWarning}
	root := &cobra.Command{
		Use:           "netgatt",
		Short:         "netgatt runs GATT servers and clients over network links",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.ctx, a.cancel = signal.NotifyContext(context.Background(), os.Interrupt)
			a.ctx = logger.CtxWithLogger(a.ctx, xlogrus.Default().WithLevel(a.logLevel))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.cancel()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	flags := root.PersistentFlags()
	flags.Var(levelFlag{&a.logLevel}, "log-level", "logging level (trace, debug, info, warning, error)")
	flags.StringVar(&a.profilesPath, "profiles", "", "connection profile file (default ~/"+config.DefaultFilename+")")
	flags.StringVarP(&a.profileName, "conn", "c", "", "connection profile to use")
	flags.StringVarP(&a.network, "network", "n", "", fmt.Sprintf("network, one of %v; overrides the profile", transport.Networks()))
	flags.StringVarP(&a.address, "address", "a", "", "address or serial device; overrides the profile")
	flags.StringVarP(&a.timeout, "timeout", "t", "", "transaction timeout, a duration or seconds; overrides the profile")
	flags.StringVar(&a.mtu, "mtu", "", "receive MTU to announce; overrides the profile")
	flags.IntVar(&a.baud, "baud", 0, "serial line speed; overrides the profile")

	root.AddCommand(serveCmd(a))
	root.AddCommand(exploreCmd(a))
	root.AddCommand(shellCmd(a))
	root.AddCommand(profileCmd(a))
	return root
}

// levelFlag lets pflag parse a logger.Level.
type levelFlag struct{ *logger.Level }

func (levelFlag) Type() string { return "level" }

func (a *app) profileManager() (*config.ProfileManager, error) {
	path := a.profilesPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return config.NewProfileManager(path)
}

// endpoint merges the selected profile with the command line flags.
func (a *app) endpoint() (*config.Profile, error) {
	p := &config.Profile{Name: "command-line", Network: transport.NetworkTCP}
	if a.profileName != "" {
		m, err := a.profileManager()
		if err != nil {
			return nil, err
		}
		stored, err := m.Get(a.profileName)
		if err != nil {
			return nil, err
		}
		cp := *stored
		p = &cp
	}
	if a.network != "" {
		p.Network = a.network
	}
	if a.address != "" {
		p.Address = a.address
	}
	if a.timeout != "" {
		p.Timeout = a.timeout
	}
	if a.baud != 0 {
		p.Baud = a.baud
	}
	if a.mtu != "" {
		mtu, err := cast.ToUint16E(a.mtu)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid MTU %q", a.mtu)
		}
		p.RecvMTU = mtu
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// connOptions turns the MTU fields of p into Conn options.
func connOptions(p *config.Profile) []gatt.Option {
	var opts []gatt.Option
	if p.SendMTU != 0 || p.RecvMTU != 0 {
		opts = append(opts, gatt.OptionMTU(max(p.SendMTU, gatt.DefaultLEMTU), max(p.RecvMTU, gatt.DefaultLEMTU)))
	}
	return opts
}

// dial connects a client as described by p.
func dial(ctx context.Context, p *config.Profile) (*gatt.Client, *gatt.Conn, error) {
	stream, err := transport.IsStream(p.Network)
	if err != nil {
		return nil, nil, err
	}
	var clientOpts []gatt.ClientOption
	if d, err := p.TransactionTimeout(); err != nil {
		return nil, nil, err
	} else if d > 0 {
		clientOpts = append(clientOpts, gatt.ClientTimeout(d))
	}
	if csrk, ok, err := p.CSRK(); err != nil {
		return nil, nil, err
	} else if ok {
		clientOpts = append(clientOpts, gatt.ClientSigningKey(csrk))
	}

	conn, err := gatt.NewConn(connOptions(p)...)
	if err != nil {
		return nil, nil, err
	}
	cl, err := gatt.NewClient(conn, clientOpts...)
	if err != nil {
		return nil, nil, err
	}
	rwc, err := transport.Dial(ctx, p.Network, p.Address, transport.WithBaud(p.Baud))
	if err != nil {
		return nil, nil, err
	}
	if err := conn.Bind(ctx, rwc, stream); err != nil {
		rwc.Close()
		return nil, nil, err
	}
	if p.RecvMTU > gatt.DefaultLEMTU {
		if _, err := cl.ExchangeMTU(ctx, p.RecvMTU); err != nil {
			conn.Close()
			return nil, nil, errors.Wrap(err, "unable to exchange the MTU")
		}
	}
	return cl, conn, nil
}

// discoverAll walks every service, characteristic and descriptor.
func discoverAll(ctx context.Context, cl *gatt.Client) error {
	ss, err := cl.DiscoverServices(ctx)
	if err != nil {
		return err
	}
	for _, s := range ss {
		cc, err := s.DiscoverCharacteristics(ctx)
		if err != nil {
			return err
		}
		for _, c := range cc {
			if _, err := c.DiscoverDescriptors(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
