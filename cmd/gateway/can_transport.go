package main

import (
	sockcan "github.com/brutella/can"

	gw "github.com/vbms/gateway"
)

// socketcanSender adapts github.com/brutella/can to gw.CanSender: a
// thin Bus.Publish call, since this gateway only ever transmits and has
// no NMT/SDO receive side to wire up.
type socketcanSender struct {
	bus *sockcan.Bus
}

// newSocketcanSender opens a socketcan interface (e.g. "can0") and
// starts its receive loop, even though this gateway does not currently
// act on received frames, because brutella/can's Bus must be actively
// publishing for ConnectAndPublish to keep the underlying socket alive.
func newSocketcanSender(ifName string) (*socketcanSender, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(ifName)
	if err != nil {
		return nil, err
	}
	go bus.ConnectAndPublish()
	return &socketcanSender{bus: bus}, nil
}

// Send implements gw.CanSender.
func (s *socketcanSender) Send(frame gw.Frame, tag string) error {
	return s.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	})
}

// Close releases the underlying socketcan connection.
func (s *socketcanSender) Close() error {
	return s.bus.Disconnect()
}
