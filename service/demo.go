package service

import (
	"time"

	gatt "github.com/xaionaro-go/netgatt"
)

// Demo is the full set of demo services of one server.
type Demo struct {
	Gatt      *GattService
	HeartRate *HeartRate
	Battery   *Battery
	Count     *Count
}

// AddDemoServices registers GAP, GATT, heart rate, battery and count
// services on s, in that order.
func AddDemoServices(s *gatt.Server, name string, onWrite func(data []byte)) (*Demo, error) {
	if err := AddGapService(s, name); err != nil {
		return nil, err
	}
	var (
		d   Demo
		err error
	)
	if d.Gatt, err = AddGattService(s); err != nil {
		return nil, err
	}
	if d.HeartRate, err = AddHeartRateService(s); err != nil {
		return nil, err
	}
	if d.Battery, err = AddBatteryService(s); err != nil {
		return nil, err
	}
	if d.Count, err = AddCountService(s, onWrite); err != nil {
		return nil, err
	}
	return &d, nil
}

// Simulator returns a stopped simulator driving d.
func (d *Demo) Simulator(interval time.Duration) *Simulator {
	sim := NewSimulator(interval)
	sim.HeartRate, sim.Battery, sim.Count = d.HeartRate, d.Battery, d.Count
	return sim
}
