package service

import (
	"context"
	"errors"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	gatt "github.com/xaionaro-go/netgatt"
)

var (
	attrBatteryServiceUUID = gatt.UUID16(0x180F)
	attrBatteryLevelUUID   = gatt.UUID16(0x2A19)
	attrUserDescUUID       = gatt.UUID16(0x2901)
	attrPresentationUUID   = gatt.UUID16(0x2904)
)

// Battery is a battery service whose level is indicated on change.
type Battery struct {
	char *gatt.Characteristic

	mu        sync.Mutex
	level     byte
	indicated int // last level sent, -1 for none
}

// AddBatteryService registers a battery service at 100 percent.
func AddBatteryService(s *gatt.Server) (*Battery, error) {
	b := &Battery{level: 100, indicated: -1}
	if _, err := s.AddService(attrBatteryServiceUUID); err != nil {
		return nil, err
	}
	c, err := s.AddCharacteristic(attrBatteryLevelUUID, nil, gatt.CharIndicate)
	if err != nil {
		return nil, err
	}
	c.HandleReadFunc(func(ctx context.Context, resp gatt.ResponseWriter, req *gatt.ReadRequest) {
		resp.Write([]byte{b.Level()})
	})
	c.HandleSubscribe(func(ctx context.Context, flags uint16) {
		b.mu.Lock()
		b.indicated = -1
		b.mu.Unlock()
	})

	if _, err := s.AddDescriptor(attrUserDescUUID, []byte("Battery level between 0 and 100 percent")); err != nil {
		return nil, err
	}
	if _, err := s.AddDescriptor(attrPresentationUUID, []byte{4, 1, 39, 173, 1, 0, 0}); err != nil {
		return nil, err
	}
	b.char = c
	return b, nil
}

func (b *Battery) Level() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level
}

// SetLevel sets the level, capped at 100.
func (b *Battery) SetLevel(level byte) {
	b.mu.Lock()
	b.level = min(level, 100)
	b.mu.Unlock()
}

// Drain lowers the level by one percent, wrapping to 100 when empty.
func (b *Battery) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.level == 0 {
		b.level = 100
		return
	}
	b.level--
}

// Update indicates the level if it changed since the last indication.
// While an earlier indication is unconfirmed it does nothing and the
// next Update retries.
func (b *Battery) Update(ctx context.Context) error {
	b.mu.Lock()
	lv := b.level
	changed := int(lv) != b.indicated
	b.mu.Unlock()
	if !changed {
		return nil
	}

	sent, err := b.char.Indicate(ctx, []byte{lv}, func() {
		logger.Debugf(ctx, "battery level %d confirmed", lv)
	})
	if errors.Is(err, gatt.ErrIndicationPending) {
		return nil
	}
	if err != nil {
		return err
	}
	if sent {
		b.mu.Lock()
		b.indicated = int(lv)
		b.mu.Unlock()
	}
	return nil
}
