package main

import (
	"context"
	"encoding/hex"

	jsoniter "github.com/json-iterator/go"

	gatt "github.com/xaionaro-go/netgatt"
)

type descriptorDump struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name,omitempty"`
	Handle uint16 `json:"handle"`
}

type characteristicDump struct {
	UUID        string           `json:"uuid"`
	Name        string           `json:"name,omitempty"`
	Handle      uint16           `json:"handle"`
	ValueHandle uint16           `json:"value_handle"`
	EndHandle   uint16           `json:"end_handle"`
	Properties  string           `json:"properties"`
	Value       string           `json:"value,omitempty"`
	ReadError   string           `json:"read_error,omitempty"`
	CCCD        uint16           `json:"cccd,omitempty"`
	Descriptors []descriptorDump `json:"descriptors,omitempty"`
}

type serviceDump struct {
	UUID            string               `json:"uuid"`
	Name            string               `json:"name,omitempty"`
	Handle          uint16               `json:"handle"`
	EndHandle       uint16               `json:"end_handle"`
	Characteristics []characteristicDump `json:"characteristics"`
}

// dumpServices describes the discovered tree. With read set, readable
// values are read and included as hex.
func dumpServices(ctx context.Context, cl *gatt.Client, read bool) []serviceDump {
	var out []serviceDump
	for _, s := range cl.Services() {
		sd := serviceDump{
			UUID:      s.UUID().String(),
			Name:      s.UUID().Name(),
			Handle:    s.Handle(),
			EndHandle: s.EndHandle(),
		}
		for _, c := range s.Characteristics() {
			cd := characteristicDump{
				UUID:        c.UUID().String(),
				Name:        c.UUID().Name(),
				Handle:      c.Handle(),
				ValueHandle: c.ValueHandle(),
				EndHandle:   c.EndHandle(),
				Properties:  c.Properties().String(),
			}
			if cccd := c.CCCD(); cccd != nil {
				cd.CCCD = cccd.Handle()
			}
			for _, d := range c.Descriptors() {
				cd.Descriptors = append(cd.Descriptors, descriptorDump{
					UUID:   d.UUID().String(),
					Name:   d.UUID().Name(),
					Handle: d.Handle(),
				})
			}
			if read && c.Properties()&gatt.CharRead != 0 {
				v, err := c.ReadLong(ctx)
				if err != nil {
					cd.ReadError = err.Error()
				} else {
					cd.Value = hex.EncodeToString(v)
				}
			}
			sd.Characteristics = append(sd.Characteristics, cd)
		}
		out = append(out, sd)
	}
	return out
}

func marshalDump(d []serviceDump) ([]byte, error) {
	return jsoniter.MarshalIndent(d, "", "  ")
}
