package main

import (
	"fmt"
	"strings"

	"github.com/fatih/structs"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/xaionaro-go/netgatt/config"
)

func profileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conn",
		Short: "Manage connection profiles",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> [var=value ...]",
		Short: "Add or replace a connection profile",
		Long:  "Variables: network, address, timeout, send_mtu, recv_mtu, baud, key.",
		Example: "  netgatt conn add local network=tcp address=localhost:3002 recv_mtu=200\n" +
			"  netgatt conn add dongle network=serial address=/dev/ttyUSB0 baud=115200",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProfileArgs(args[0], args[1:])
			if err != nil {
				return err
			}
			m, err := a.profileManager()
			if err != nil {
				return err
			}
			if err := m.Add(p); err != nil {
				return err
			}
			fmt.Printf("Connection profile %s successfully added\n", p.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [name]",
		Short: "Show connection profiles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.profileManager()
			if err != nil {
				return err
			}
			var list []*config.Profile
			if len(args) == 1 {
				p, err := m.Get(args[0])
				if err != nil {
					return err
				}
				list = append(list, p)
			} else {
				list = m.List()
			}
			if len(list) == 0 {
				fmt.Printf("No connection profiles in %s\n", m.Filename())
				return nil
			}
			fmt.Println("Connection profiles:")
			for _, p := range list {
				fmt.Printf("  %s\n", formatProfile(p))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a connection profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.profileManager()
			if err != nil {
				return err
			}
			if err := m.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Connection profile %s successfully deleted\n", args[0])
			return nil
		},
	})
	return cmd
}

// parseProfileArgs builds a profile from var=value pairs.
func parseProfileArgs(name string, vars []string) (*config.Profile, error) {
	p := &config.Profile{Name: name}
	for _, vdef := range vars {
		kv := strings.SplitN(vdef, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Errorf("expected var=value, got %q", vdef)
		}
		var err error
		switch kv[0] {
		case "network":
			p.Network = kv[1]
		case "address":
			p.Address = kv[1]
		case "timeout":
			p.Timeout = kv[1]
		case "send_mtu":
			p.SendMTU, err = cast.ToUint16E(kv[1])
		case "recv_mtu", "mtu":
			p.RecvMTU, err = cast.ToUint16E(kv[1])
		case "baud":
			p.Baud, err = cast.ToIntE(kv[1])
		case "key":
			p.SigningKey = kv[1]
		default:
			return nil, errors.Errorf("unknown variable %s", kv[0])
		}
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s", kv[0])
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// formatProfile prints the non-zero fields of p as name: var=value.
func formatProfile(p *config.Profile) string {
	var vars []string
	for _, f := range structs.New(p).Fields() {
		if f.IsZero() || f.Name() == "Name" {
			continue
		}
		tag := strings.SplitN(f.Tag("structs"), ",", 2)[0]
		vars = append(vars, fmt.Sprintf("%s=%v", tag, f.Value()))
	}
	return fmt.Sprintf("%s: %s", p.Name, strings.Join(vars, ", "))
}
