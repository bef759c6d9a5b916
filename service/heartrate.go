package service

import (
	"context"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	gatt "github.com/xaionaro-go/netgatt"
)

var (
	attrHeartRateServiceUUID = gatt.UUID16(0x180D)
	attrHRMeasurementUUID    = gatt.UUID16(0x2A37)
	attrHRControlPointUUID   = gatt.UUID16(0x2A39)
	attrHRMaxUUID            = gatt.UUID16(0x2A8D)
)

// HeartRateMax is the static value of the Heart Rate Max characteristic.
const HeartRateMax = 0xFF

// HeartRate is a heart rate service: a notifying measurement, a
// writable control point and a static maximum.
type HeartRate struct {
	meas *gatt.Characteristic

	mu  sync.Mutex
	bpm byte
	ctl []byte
}

// AddHeartRateService registers a heart rate service.
func AddHeartRateService(s *gatt.Server) (*HeartRate, error) {
	hr := &HeartRate{}
	if _, err := s.AddService(attrHeartRateServiceUUID); err != nil {
		return nil, err
	}

	ctl, err := s.AddCharacteristic(attrHRControlPointUUID, nil, 0)
	if err != nil {
		return nil, err
	}
	ctl.HandleWriteFunc(func(ctx context.Context, r gatt.Request, data []byte) gatt.AttrECode {
		logger.Infof(ctx, "control point written: % X", data)
		hr.mu.Lock()
		hr.ctl = append(hr.ctl[:0], data...)
		hr.mu.Unlock()
		return gatt.AttrECodeSuccess
	})

	meas, err := s.AddCharacteristic(attrHRMeasurementUUID, nil, gatt.CharNotify)
	if err != nil {
		return nil, err
	}
	meas.HandleReadFunc(func(ctx context.Context, resp gatt.ResponseWriter, req *gatt.ReadRequest) {
		resp.Write(measurement(hr.BPM()))
	})
	meas.HandleSubscribe(func(ctx context.Context, flags uint16) {
		logger.Debugf(ctx, "heart rate measurement subscribed")
	})
	meas.HandleUnsubscribe(func(ctx context.Context) {
		logger.Debugf(ctx, "heart rate measurement unsubscribed")
	})

	if _, err := s.AddCharacteristic(attrHRMaxUUID, []byte{HeartRateMax}, 0); err != nil {
		return nil, err
	}
	hr.meas = meas
	return hr, nil
}

// measurement encodes bpm with the 8-bit value format flag.
func measurement(bpm byte) []byte {
	return []byte{0x00, bpm}
}

func (hr *HeartRate) BPM() byte {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	return hr.bpm
}

// ControlPoint returns the last value written to the control point.
func (hr *HeartRate) ControlPoint() []byte {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	return append([]byte(nil), hr.ctl...)
}

// Tick advances the measurement and notifies it.
func (hr *HeartRate) Tick(ctx context.Context) error {
	hr.mu.Lock()
	hr.bpm = byte((int(hr.bpm) + 1) % HeartRateMax)
	bpm := hr.bpm
	hr.mu.Unlock()
	return hr.meas.Notify(ctx, measurement(bpm))
}
