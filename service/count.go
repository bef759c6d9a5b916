package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	gatt "github.com/xaionaro-go/netgatt"
)

var (
	CountServiceUUID = gatt.MustParseUUID("09fc95c0-c111-11e3-9904-0002a5d5c51b")
	CountReadUUID    = gatt.MustParseUUID("11fac9e0-c111-11e3-9246-0002a5d5c51b")
	CountWriteUUID   = gatt.MustParseUUID("16fe0d80-c111-11e3-b8c8-0002a5d5c51b")
	CountNotifyUUID  = gatt.MustParseUUID("1c927b50-c116-11e3-8a33-0800200c9a66")
)

// Count is a demo service whose reads return the next count. Writes go
// to a callback, and a third characteristic notifies a running count.
type Count struct {
	notify *gatt.Characteristic

	mu    sync.Mutex
	reads int
	ticks int
}

// AddCountService registers the count service. onWrite may be nil.
func AddCountService(s *gatt.Server, onWrite func(data []byte)) (*Count, error) {
	cnt := &Count{}
	if _, err := s.AddService(CountServiceUUID); err != nil {
		return nil, err
	}

	r, err := s.AddCharacteristic(CountReadUUID, nil, 0)
	if err != nil {
		return nil, err
	}
	r.HandleReadFunc(func(ctx context.Context, resp gatt.ResponseWriter, req *gatt.ReadRequest) {
		cnt.mu.Lock()
		n := cnt.reads
		cnt.reads++
		cnt.mu.Unlock()
		fmt.Fprintf(resp, "count: %d", n)
	})

	w, err := s.AddCharacteristic(CountWriteUUID, nil, 0)
	if err != nil {
		return nil, err
	}
	w.HandleWriteFunc(func(ctx context.Context, r gatt.Request, data []byte) gatt.AttrECode {
		logger.Infof(ctx, "wrote: %q", data)
		if onWrite != nil {
			onWrite(data)
		}
		return gatt.AttrECodeSuccess
	})

	cnt.notify, err = s.AddCharacteristic(CountNotifyUUID, nil, gatt.CharNotify)
	if err != nil {
		return nil, err
	}
	return cnt, nil
}

// Tick notifies the next running count.
func (cnt *Count) Tick(ctx context.Context) error {
	cnt.mu.Lock()
	n := cnt.ticks
	cnt.ticks++
	cnt.mu.Unlock()
	return cnt.notify.Notify(ctx, []byte(fmt.Sprintf("Count: %d", n)))
}
