// Package service provides ready-made services for a gatt.Server.
package service

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
	gatt "github.com/xaionaro-go/netgatt"
	"github.com/xaionaro-go/netgatt/util"
)

var (
	attrGATTUUID           = gatt.UUID16(0x1801)
	attrServiceChangedUUID = gatt.UUID16(0x2A05)
)

// AddGapService registers the Generic Access service. It must come first.
func AddGapService(s *gatt.Server, name string) error {
	return s.AddGAPService(name)
}

// GattService is the Generic Attribute service.
type GattService struct {
	changed *gatt.Characteristic
}

// AddGattService registers the Generic Attribute service with its
// Service Changed characteristic.
func AddGattService(s *gatt.Server) (*GattService, error) {
	if _, err := s.AddService(attrGATTUUID); err != nil {
		return nil, err
	}
	c, err := s.AddCharacteristic(attrServiceChangedUUID, nil, gatt.CharIndicate)
	if err != nil {
		return nil, err
	}
	return &GattService{changed: c}, nil
}

// Changed indicates that the handles from start to end changed. It
// reports false when the peer did not enable indications.
func (g *GattService) Changed(ctx context.Context, start, end uint16) (bool, error) {
	v := make([]byte, 4)
	util.BinaryOrder.PutHandleRange(v, start, end)
	return g.changed.Indicate(ctx, v, func() {
		logger.Debugf(ctx, "service change 0x%04X-0x%04X confirmed", start, end)
	})
}
