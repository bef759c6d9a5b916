package main

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"gopkg.in/abiosoft/ishell.v2"

	gatt "github.com/xaionaro-go/netgatt"
)

func shellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive client session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.endpoint()
			if err != nil {
				return err
			}
			cl, conn, err := dial(a.ctx, p)
			if err != nil {
				return err
			}
			defer conn.Close()

			shell := ishell.New()
			shell.SetPrompt("gatt> ")
			shell.Println()
			shell.Println(" netgatt client shell, connected to", p)
			shell.Println(" handles are value handles, values are hex or str:text")
			shell.Println()
			cl.OnDisconnect(func(ctx context.Context, err error) {
				shell.Println("disconnected:", err)
			})

			sh := &clientShell{ctx: a.ctx, cl: cl}
			for _, c := range sh.commands() {
				shell.AddCmd(c)
			}
			shell.Run()
			shell.Close()
			return nil
		},
	}
}

// clientShell binds the interactive commands to one client.
type clientShell struct {
	ctx context.Context
	cl  *gatt.Client
}

func (sh *clientShell) commands() []*ishell.Cmd {
	return []*ishell.Cmd{
		{Name: "discover", Help: "discover every service, characteristic and descriptor", Func: sh.run(sh.discover)},
		{Name: "services", Help: "print the discovered services", Func: sh.run(sh.services)},
		{Name: "read", Help: "read a characteristic: read <handle>", Func: sh.run(sh.read)},
		{Name: "write", Help: "write a characteristic: write <handle> <hex>", Func: sh.run(sh.write)},
		{Name: "writecmd", Help: "write without response: writecmd <handle> <hex>", Func: sh.run(sh.writeCommand)},
		{Name: "signedwrite", Help: "signed write without response: signedwrite <handle> <hex>", Func: sh.run(sh.signedWrite)},
		{Name: "subscribe", Help: "print notifications or indications: subscribe <handle>", Func: sh.run(sh.subscribe)},
		{Name: "unsubscribe", Help: "stop notifications or indications: unsubscribe <handle>", Func: sh.run(sh.unsubscribe)},
		{Name: "mtu", Help: "exchange the MTU: mtu <receive MTU>", Func: sh.run(sh.mtu)},
	}
}

func (sh *clientShell) run(f func(c *ishell.Context) error) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if err := f(c); err != nil {
			c.Println("Error:", err)
		}
	}
}

func (sh *clientShell) discover(c *ishell.Context) error {
	if err := discoverAll(sh.ctx, sh.cl); err != nil {
		return err
	}
	c.Print(sh.cl.String())
	return nil
}

func (sh *clientShell) services(c *ishell.Context) error {
	c.Print(sh.cl.String())
	return nil
}

func (sh *clientShell) read(c *ishell.Context) error {
	ch, err := sh.characteristic(c.Args, 1)
	if err != nil {
		return err
	}
	v, err := ch.ReadLong(sh.ctx)
	if err != nil {
		return err
	}
	c.Printf("%s %q\n", hex.EncodeToString(v), v)
	return nil
}

func (sh *clientShell) write(c *ishell.Context) error {
	ch, v, err := sh.characteristicValue(c.Args)
	if err != nil {
		return err
	}
	return ch.Write(sh.ctx, v)
}

func (sh *clientShell) writeCommand(c *ishell.Context) error {
	ch, v, err := sh.characteristicValue(c.Args)
	if err != nil {
		return err
	}
	return ch.WriteCommand(sh.ctx, v)
}

func (sh *clientShell) signedWrite(c *ishell.Context) error {
	ch, v, err := sh.characteristicValue(c.Args)
	if err != nil {
		return err
	}
	return ch.SignedWrite(sh.ctx, v)
}

func (sh *clientShell) subscribe(c *ishell.Context) error {
	ch, err := sh.characteristic(c.Args, 1)
	if err != nil {
		return err
	}
	h := ch.ValueHandle()
	return ch.Subscribe(sh.ctx, func(v []byte) {
		c.Printf("0x%04X: %s\n", h, hex.EncodeToString(v))
	})
}

func (sh *clientShell) unsubscribe(c *ishell.Context) error {
	ch, err := sh.characteristic(c.Args, 1)
	if err != nil {
		return err
	}
	return ch.Unsubscribe(sh.ctx)
}

func (sh *clientShell) mtu(c *ishell.Context) error {
	if len(c.Args) != 1 {
		return errors.New("usage: mtu <receive MTU>")
	}
	mtu, err := cast.ToUint16E(c.Args[0])
	if err != nil {
		return err
	}
	send, err := sh.cl.ExchangeMTU(sh.ctx, mtu)
	if err != nil {
		return err
	}
	c.Printf("send MTU %d\n", send)
	return nil
}

func (sh *clientShell) characteristicValue(args []string) (*gatt.ClientCharacteristic, []byte, error) {
	ch, err := sh.characteristic(args, 2)
	if err != nil {
		return nil, nil, err
	}
	v, err := parseValue(args[1])
	if err != nil {
		return nil, nil, err
	}
	return ch, v, nil
}

func (sh *clientShell) characteristic(args []string, n int) (*gatt.ClientCharacteristic, error) {
	if len(args) != n {
		return nil, errors.Errorf("expected %d arguments, got %d", n, len(args))
	}
	h, err := cast.ToUint16E(args[0])
	if err != nil {
		return nil, errors.Wrapf(err, "invalid handle %q", args[0])
	}
	return findCharacteristic(sh.cl.Services(), h)
}

// findCharacteristic looks a discovered characteristic up by its
// declaration or value handle.
func findCharacteristic(ss []*gatt.ClientService, h uint16) (*gatt.ClientCharacteristic, error) {
	for _, s := range ss {
		if h < s.Handle() || h > s.EndHandle() {
			continue
		}
		for _, c := range s.Characteristics() {
			if c.Handle() == h || c.ValueHandle() == h {
				return c, nil
			}
		}
	}
	return nil, errors.Errorf("no discovered characteristic at handle 0x%04X, run discover first", h)
}

// parseValue decodes hex, with an optional 0x prefix. A value
// prefixed with "str:" is taken as text.
func parseValue(s string) ([]byte, error) {
	if text, ok := strings.CutPrefix(s, "str:"); ok {
		return []byte(text), nil
	}
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid hex value %q", s)
	}
	return v, nil
}
