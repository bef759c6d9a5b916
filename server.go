package gatt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	ErrNoService         = errors.New("no service to add the characteristic to")
	ErrNoCharacteristic  = errors.New("no characteristic to add the descriptor to")
	ErrGAPNotFirst       = errors.New("the GAP service must be registered first")
	ErrIndicationPending = errors.New("an indication is waiting for its confirmation")
)

// Server is the attribute server side of a Conn. It owns the handle
// table built by AddService, AddCharacteristic and AddDescriptor.
type Server struct {
	conn *Conn

	mu       sync.RWMutex
	attrs    *attrRange
	services []*Service
	signer   *signer

	// pending holds the confirmation callbacks of sent indications.
	// ATT allows one unconfirmed indication per connection.
	indMu   sync.Mutex
	pending []func()

	discMu       sync.Mutex
	onDisconnect []func(context.Context, error)
}

// NewServer attaches a server to conn.
func NewServer(conn *Conn) (*Server, error) {
	s := &Server{
		conn:  conn,
		attrs: newAttrRange(),
	}
	if err := conn.attach(s, true); err != nil {
		return nil, fmt.Errorf("unable to attach the server: %w", err)
	}
	return s, nil
}

// A Service is a server-side primary service.
type Service struct {
	uuid  UUID
	h     uint16
	endh  uint16
	chars []*Characteristic
}

func (s *Service) UUID() UUID        { return s.uuid }
func (s *Service) Handle() uint16    { return s.h }
func (s *Service) EndHandle() uint16 { return s.endh }

// Characteristics returns the characteristics registered so far.
func (s *Service) Characteristics() []*Characteristic {
	return append([]*Characteristic(nil), s.chars...)
}

// A Characteristic is a server-side characteristic: a declaration
// handle, the value handle right after it and optionally a CCCD.
type Characteristic struct {
	server *Server
	svc    *Service
	uuid   UUID
	props  Property

	h    uint16
	vh   uint16
	endh uint16

	value    []byte
	rhandler ReadHandler
	whandler WriteHandler

	cccd  *Descriptor
	ccc   uint16
	descs []*Descriptor

	onSubscribe   func(ctx context.Context, flags uint16)
	onUnsubscribe func(ctx context.Context)
}

// A Descriptor is a server-side characteristic descriptor.
type Descriptor struct {
	server *Server
	char   *Characteristic
	uuid   UUID
	h      uint16

	value    []byte
	rhandler ReadHandler
	whandler WriteHandler
}

// AddService registers a primary service. Characteristics added
// afterwards belong to it.
func (s *Server) AddService(u UUID) (*Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc := &Service{uuid: u}
	hh, err := s.attrs.alloc(attr{kind: attrKindService, typ: attrPrimaryServiceUUID, svc: svc})
	if err != nil {
		return nil, fmt.Errorf("unable to add service %s: %w", u, err)
	}
	svc.h, svc.endh = hh[0], hh[0]
	s.services = append(s.services, svc)
	return svc, nil
}

// AddCharacteristic registers a characteristic in the last added service.
// A non-nil value makes it readable. CharNotify or CharIndicate in props
// adds a CCCD right after the value handle.
func (s *Server) AddCharacteristic(u UUID, value []byte, props Property) (*Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.services) == 0 {
		return nil, ErrNoService
	}
	svc := s.services[len(s.services)-1]
	if value != nil {
		props |= CharRead
	}
	c := &Characteristic{
		server: s,
		svc:    svc,
		uuid:   u,
		props:  props,
	}
	if value != nil {
		c.value = cloneBytes(value)
	}
	aa := []attr{
		{kind: attrKindCharDecl, typ: attrCharacteristicUUID, svc: svc, char: c},
		{kind: attrKindCharValue, typ: u, svc: svc, char: c},
	}
	if props&(CharNotify|CharIndicate) != 0 {
		c.cccd = &Descriptor{server: s, char: c, uuid: attrClientCharacteristicConfigUUID}
		aa = append(aa, attr{kind: attrKindCCCD, typ: attrClientCharacteristicConfigUUID, svc: svc, char: c, desc: c.cccd})
	}
	hh, err := s.attrs.alloc(aa...)
	if err != nil {
		return nil, fmt.Errorf("unable to add characteristic %s: %w", u, err)
	}
	c.h, c.vh, c.endh = hh[0], hh[1], hh[1]
	if c.cccd != nil {
		c.cccd.h, c.endh = hh[2], hh[2]
	}
	svc.chars = append(svc.chars, c)
	svc.endh = c.endh
	return c, nil
}

// AddDescriptor registers a descriptor of the last added characteristic
// of the last added service. A descriptor with a value is readable, and
// writable unless a write handler is set: a write stores the new value.
func (s *Server) AddDescriptor(u UUID, value []byte) (*Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.services) == 0 {
		return nil, ErrNoCharacteristic
	}
	svc := s.services[len(s.services)-1]
	if len(svc.chars) == 0 {
		return nil, ErrNoCharacteristic
	}
	c := svc.chars[len(svc.chars)-1]
	d := &Descriptor{server: s, char: c, uuid: u}
	if value != nil {
		d.value = cloneBytes(value)
	}
	hh, err := s.attrs.alloc(attr{kind: attrKindDescriptor, typ: u, svc: svc, char: c, desc: d})
	if err != nil {
		return nil, fmt.Errorf("unable to add descriptor %s: %w", u, err)
	}
	d.h = hh[0]
	c.descs = append(c.descs, d)
	c.endh, svc.endh = d.h, d.h
	return d, nil
}

// AddGAPService registers the Generic Access service with a read-only
// Device Name. It must be the first registration of the server.
func (s *Server) AddGAPService(deviceName string) error {
	s.mu.RLock()
	n := s.attrs.Len()
	s.mu.RUnlock()
	if n != 0 {
		return ErrGAPNotFirst
	}
	if _, err := s.AddService(attrGAPUUID); err != nil {
		return err
	}
	_, err := s.AddCharacteristic(attrDeviceNameUUID, []byte(deviceName), CharRead)
	return err
}

// Services returns the registered services.
func (s *Server) Services() []*Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Service(nil), s.services...)
}

// SetSigningKey enables Signed Write Commands verified with csrk.
func (s *Server) SetSigningKey(csrk [16]byte) error {
	sg, err := newSigner(csrk)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.signer = sg
	s.mu.Unlock()
	return nil
}

// OnDisconnect registers f to be called when the connection goes down.
func (s *Server) OnDisconnect(f func(ctx context.Context, err error)) {
	s.discMu.Lock()
	s.onDisconnect = append(s.onDisconnect, f)
	s.discMu.Unlock()
}

func (s *Server) handleDisconnect(ctx context.Context, err error) {
	s.indMu.Lock()
	s.pending = nil
	s.indMu.Unlock()

	s.discMu.Lock()
	ff := slices.Clone(s.onDisconnect)
	s.discMu.Unlock()
	for _, f := range ff {
		callSafely(ctx, "server disconnect callback", func() { f(ctx, err) })
	}
}

func (s *Server) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b strings.Builder
	for _, svc := range s.services {
		fmt.Fprintf(&b, "Service %s%s [0x%04X-0x%04X]\n", svc.uuid, uuidLabel(svc.uuid), svc.h, svc.endh)
		for _, c := range svc.chars {
			fmt.Fprintf(&b, "  Characteristic %s%s (%s) [0x%04X value 0x%04X end 0x%04X]\n",
				c.uuid, uuidLabel(c.uuid), c.props, c.h, c.vh, c.endh)
			if c.cccd != nil {
				fmt.Fprintf(&b, "    CCCD [0x%04X]\n", c.cccd.h)
			}
			for _, d := range c.descs {
				fmt.Fprintf(&b, "    Descriptor %s%s [0x%04X]\n", d.uuid, uuidLabel(d.uuid), d.h)
			}
		}
	}
	return b.String()
}

func uuidLabel(u UUID) string {
	if name := u.Name(); name != "" {
		return " (" + name + ")"
	}
	return ""
}

func (s *Server) request(h uint16) Request {
	return Request{Server: s, Handle: h, MTU: int(s.conn.SendMTU())}
}

func (c *Characteristic) UUID() UUID          { return c.uuid }
func (c *Characteristic) Handle() uint16      { return c.h }
func (c *Characteristic) ValueHandle() uint16 { return c.vh }

func (c *Characteristic) EndHandle() uint16 {
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	return c.endh
}

func (c *Characteristic) Properties() Property {
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	return c.props
}

// Descriptors returns the descriptors of c, the CCCD excluded.
func (c *Characteristic) Descriptors() []*Descriptor {
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	return append([]*Descriptor(nil), c.descs...)
}

// declaration returns the value of the declaration attribute:
// properties, value handle and UUID. Called with the server lock held.
func (c *Characteristic) declaration() []byte {
	b := make([]byte, 0, 3+c.uuid.Len())
	b = append(b, byte(c.props))
	b = order.AppendUint16(b, c.vh)
	return append(b, c.uuid.b...)
}

// SetValue sets a static value, which makes c readable.
func (c *Characteristic) SetValue(v []byte) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.value = cloneBytes(v)
	c.props |= CharRead
}

// HandleRead makes c readable through h. It takes precedence over a static value.
func (c *Characteristic) HandleRead(h ReadHandler) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.rhandler = h
	c.props |= CharRead
}

// HandleReadFunc calls HandleRead(ReadHandlerFunc(f)).
func (c *Characteristic) HandleReadFunc(f func(ctx context.Context, resp ResponseWriter, req *ReadRequest)) {
	c.HandleRead(ReadHandlerFunc(f))
}

// HandleWrite makes c writable, with and without response, through h.
func (c *Characteristic) HandleWrite(h WriteHandler) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.whandler = h
	c.props |= CharWrite | CharWriteNR
}

// HandleWriteFunc calls HandleWrite(WriteHandlerFunc(f)).
func (c *Characteristic) HandleWriteFunc(f func(ctx context.Context, r Request, data []byte) AttrECode) {
	c.HandleWrite(WriteHandlerFunc(f))
}

// HandleSubscribe sets the function called when the peer enables
// notifications or indications. It is called once per transition.
func (c *Characteristic) HandleSubscribe(f func(ctx context.Context, flags uint16)) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.onSubscribe = f
}

// HandleUnsubscribe sets the function called when the peer clears the CCCD.
func (c *Characteristic) HandleUnsubscribe(f func(ctx context.Context)) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.onUnsubscribe = f
}

// Notify sends v as a notification if the peer enabled notifications,
// and does nothing otherwise.
func (c *Characteristic) Notify(ctx context.Context, v []byte) error {
	s := c.server
	s.mu.RLock()
	enabled := c.ccc&gattCCCNotifyFlag != 0
	s.mu.RUnlock()
	if !enabled {
		return nil
	}
	return s.conn.Send(ctx, HandleValueNotification{Handle: c.vh, Value: v}.Marshal())
}

// Indicate sends v as an indication if the peer enabled indications.
// onConfirmed is called on the receive loop when the confirmation arrives.
// It reports false without sending when indications are disabled, or
// with ErrIndicationPending while an earlier indication is unconfirmed.
func (c *Characteristic) Indicate(ctx context.Context, v []byte, onConfirmed func()) (bool, error) {
	s := c.server
	s.mu.RLock()
	enabled := c.ccc&gattCCCIndicateFlag != 0
	s.mu.RUnlock()
	if !enabled {
		return false, nil
	}

	// Take the slot before sending so that a fast confirmation finds
	// its callback. Send runs unlocked since a failed write tears the
	// connection down, and that clears the queue.
	s.indMu.Lock()
	if len(s.pending) != 0 {
		s.indMu.Unlock()
		return false, ErrIndicationPending
	}
	s.pending = append(s.pending, onConfirmed)
	s.indMu.Unlock()

	if err := s.conn.Send(ctx, HandleValueIndication{Handle: c.vh, Value: v}.Marshal()); err != nil {
		s.indMu.Lock()
		s.pending = nil
		s.indMu.Unlock()
		return false, err
	}
	return true, nil
}

func (d *Descriptor) UUID() UUID     { return d.uuid }
func (d *Descriptor) Handle() uint16 { return d.h }

// SetValue sets a static value, which makes d readable.
func (d *Descriptor) SetValue(v []byte) {
	d.server.mu.Lock()
	defer d.server.mu.Unlock()
	d.value = cloneBytes(v)
}

func (d *Descriptor) HandleReadFunc(f func(ctx context.Context, resp ResponseWriter, req *ReadRequest)) {
	d.server.mu.Lock()
	defer d.server.mu.Unlock()
	d.rhandler = ReadHandlerFunc(f)
}

func (d *Descriptor) HandleWriteFunc(f func(ctx context.Context, r Request, data []byte) AttrECode) {
	d.server.mu.Lock()
	defer d.server.mu.Unlock()
	d.whandler = WriteHandlerFunc(f)
}
