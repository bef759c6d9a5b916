package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/cobra"

	gatt "github.com/xaionaro-go/netgatt"
	"github.com/xaionaro-go/netgatt/config"
	"github.com/xaionaro-go/netgatt/service"
	"github.com/xaionaro-go/netgatt/transport"
)

func serveCmd(a *app) *cobra.Command {
	var (
		name     string
		interval time.Duration
		key      string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo heart rate, battery and count services",
		Example: "  netgatt serve -n tcp -a :3002\n" +
			"  netgatt serve -n unixpacket -a /tmp/gatt.sock --name HRM",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.endpoint()
			if err != nil {
				return err
			}
			if key != "" {
				p.SigningKey = key
			}
			l, err := transport.Listen(a.ctx, p.Network, p.Address)
			if err != nil {
				return err
			}
			go func() {
				<-a.ctx.Done()
				l.Close()
			}()
			fmt.Printf("serving %s on %s %s\n", name, p.Network, l.Addr())
			for {
				rwc, err := l.Accept()
				if err != nil {
					if a.ctx.Err() != nil {
						return nil
					}
					return err
				}
				go func() {
					if err := serveOne(a.ctx, p, rwc, name, interval); err != nil {
						logger.Errorf(a.ctx, "serving %s: %v", rwc.RemoteAddr(), err)
					}
				}()
			}
		},
	}
	cmd.Flags().StringVar(&name, "name", "Gopher", "device name")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "simulation step")
	cmd.Flags().StringVar(&key, "signing-key", "", "hex CSRK accepted for signed writes")
	return cmd
}

// serveOne runs the demo services on one accepted link until it drops.
func serveOne(ctx context.Context, p *config.Profile, rwc net.Conn, name string, interval time.Duration) error {
	stream, err := transport.IsStream(p.Network)
	if err != nil {
		return err
	}
	conn, err := gatt.NewConn(connOptions(p)...)
	if err != nil {
		return err
	}
	s, err := gatt.NewServer(conn)
	if err != nil {
		return err
	}
	if csrk, ok, err := p.CSRK(); err != nil {
		return err
	} else if ok {
		if err := s.SetSigningKey(csrk); err != nil {
			return err
		}
	}
	demo, err := service.AddDemoServices(s, name, func(data []byte) {
		fmt.Printf("%s wrote: %q\n", rwc.RemoteAddr(), data)
	})
	if err != nil {
		return err
	}

	sim := demo.Simulator(interval)
	s.OnDisconnect(func(ctx context.Context, err error) {
		fmt.Printf("%s disconnected: %v\n", rwc.RemoteAddr(), err)
	})
	if err := conn.Bind(ctx, rwc, stream); err != nil {
		rwc.Close()
		return err
	}
	fmt.Printf("%s connected\n%s", rwc.RemoteAddr(), s)
	if err := sim.Start(ctx); err != nil {
		conn.Close()
		return err
	}

	select {
	case <-conn.Done():
	case <-ctx.Done():
		conn.Close()
	}
	return sim.Stop()
}
