package gatt

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// Client is the attribute client side of a Conn. It runs at most one
// request at a time; further calls wait for their turn.
type Client struct {
	conn    *Conn
	timeout time.Duration
	signer  *signer

	// txSem admits one transaction at a time.
	txSem chan struct{}

	mu            sync.Mutex
	pendingOp     byte
	respCh        chan []byte
	disconnected  bool
	disconnectErr error
	doneCh        chan struct{}
	services      []*ClientService

	subs subscriptions

	discMu       sync.Mutex
	onDisconnect []func(context.Context, error)
}

// NewClient attaches a client to conn.
func NewClient(conn *Conn, opts ...ClientOption) (*Client, error) {
	c := &Client{
		conn:    conn,
		timeout: DefaultTransactionTimeout,
		txSem:   make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("unable to apply a client option: %w", err)
		}
	}
	if err := conn.attach(c, false); err != nil {
		return nil, fmt.Errorf("unable to attach the client: %w", err)
	}
	return c, nil
}

// A ClientService is a discovered primary service.
type ClientService struct {
	client *Client
	uuid   UUID
	h      uint16
	endh   uint16
	chars  []*ClientCharacteristic
}

// A ClientCharacteristic is a discovered characteristic.
type ClientCharacteristic struct {
	svc   *ClientService
	uuid  UUID
	props Property
	h     uint16
	vh    uint16
	endh  uint16
	descs []*ClientDescriptor
	cccd  *ClientDescriptor
}

// A ClientDescriptor is a discovered descriptor.
type ClientDescriptor struct {
	char *ClientCharacteristic
	uuid UUID
	h    uint16
}

// transact sends req and waits for its response or error response.
// The outstanding request is always cleared before it returns.
func (c *Client) transact(ctx context.Context, req PDU) ([]byte, error) {
	op := req.Opcode()
	select {
	case c.txSem <- struct{}{}:
	case <-c.doneCh:
		return nil, c.errDisconnected(op)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.txSem }()

	respCh := make(chan []byte, 1)
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil, c.errDisconnected(op)
	}
	c.pendingOp, c.respCh = op, respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pendingOp, c.respCh = 0, nil
		c.mu.Unlock()
	}()

	logger.Tracef(ctx, "transaction %s", OpcodeName(op))
	if err := c.conn.Send(ctx, req.Marshal()); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", OpcodeName(op), ErrNoResponse, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case rsp := <-respCh:
		if rsp[0] == attrOpError {
			var e ErrorResp
			if err := e.Unmarshal(rsp); err != nil {
				return nil, fmt.Errorf("unable to parse the error response to %s: %w", OpcodeName(op), err)
			}
			return nil, &ClientError{Op: e.ReqOp, Handle: e.Handle, Code: e.Code}
		}
		if rsp[0] != attRespFor[op] {
			return nil, fmt.Errorf("%w: %s to %s", ErrUnexpectedResponse, OpcodeName(rsp[0]), OpcodeName(op))
		}
		return rsp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w after %s", OpcodeName(op), ErrNoResponse, c.timeout)
	case <-c.doneCh:
		return nil, c.errDisconnected(op)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) errDisconnected(op byte) error {
	c.mu.Lock()
	cause := c.disconnectErr
	c.mu.Unlock()
	if cause != nil {
		return fmt.Errorf("%s: %w: %w: %v", OpcodeName(op), ErrNoResponse, ErrDisconnected, cause)
	}
	return fmt.Errorf("%s: %w: %w", OpcodeName(op), ErrNoResponse, ErrDisconnected)
}

// handlePacket takes responses, notifications and indications off
// the receive loop. Callbacks run synchronously, so they must not
// start transactions themselves.
func (c *Client) handlePacket(ctx context.Context, pdu []byte) []byte {
	switch op := pdu[0]; op {
	case attrOpHandleNotify:
		c.deliver(ctx, pdu)
		return nil
	case attrOpHandleInd:
		c.deliver(ctx, pdu)
		// Confirmed even when nobody listens, or the server could
		// never indicate again.
		return HandleValueConfirmation{}.Marshal()
	default:
		c.mu.Lock()
		ch, pending := c.respCh, c.pendingOp
		matched := ch != nil && (op != attrOpError || pdu[1] == pending)
		if matched {
			c.respCh = nil
		}
		c.mu.Unlock()
		if !matched {
			logger.Warnf(ctx, "discarding an unmatched %s", OpcodeName(op))
			return nil
		}
		ch <- pdu
		return nil
	}
}

func (c *Client) deliver(ctx context.Context, pdu []byte) {
	h, v, err := unmarshalHandleValue(pdu[0], pdu)
	if err != nil {
		logger.Debugf(ctx, "dropping a malformed %s: %v", OpcodeName(pdu[0]), err)
		return
	}
	f := c.subs.lookup(h)
	if f == nil {
		logger.Debugf(ctx, "%s for unsubscribed handle 0x%04X", OpcodeName(pdu[0]), h)
		return
	}
	callSafely(ctx, "subscription callback", func() { f(v) })
}

func (c *Client) handleDisconnect(ctx context.Context, err error) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected, c.disconnectErr = true, err
	close(c.doneCh)
	c.mu.Unlock()
	c.subs.clear()

	c.discMu.Lock()
	ff := slices.Clone(c.onDisconnect)
	c.discMu.Unlock()
	for _, f := range ff {
		callSafely(ctx, "client disconnect callback", func() { f(ctx, err) })
	}
}

// OnDisconnect registers f to be called when the connection goes down.
func (c *Client) OnDisconnect(f func(ctx context.Context, err error)) {
	c.discMu.Lock()
	c.onDisconnect = append(c.onDisconnect, f)
	c.discMu.Unlock()
}

// ExchangeMTU announces mtu as the receive MTU of this side and adopts
// the server's receive MTU as the send MTU. It returns the new send MTU.
func (c *Client) ExchangeMTU(ctx context.Context, mtu uint16) (uint16, error) {
	mtu = c.conn.setRecvMTU(mtu)
	b, err := c.transact(ctx, MTUReq{MTU: mtu})
	if err != nil {
		return 0, err
	}
	var resp MTUResp
	if err := resp.Unmarshal(b); err != nil {
		return 0, err
	}
	sendMTU := c.conn.setSendMTU(resp.MTU)
	logger.Debugf(ctx, "MTU exchanged: rx %d tx %d", mtu, sendMTU)
	return sendMTU, nil
}

func (c *Client) read(ctx context.Context, h uint16) ([]byte, error) {
	b, err := c.transact(ctx, ReadReq{Handle: h})
	if err != nil {
		return nil, err
	}
	var resp ReadResp
	if err := resp.Unmarshal(b); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// readLong reads a value that may not fit into one Read Response.
func (c *Client) readLong(ctx context.Context, h uint16) ([]byte, error) {
	value, err := c.read(ctx, h)
	if err != nil {
		return nil, err
	}
	chunk := int(c.conn.SendMTU()) - 1
	for n := len(value); n >= chunk && len(value) < maxAttrValueLen; {
		b, err := c.transact(ctx, ReadBlobReq{Handle: h, Offset: uint16(len(value))})
		if ce, ok := IsClientError(err); ok && (ce.Code == AttrECodeAttrNotLong || ce.Code == AttrECodeInvalidOffset) {
			break
		}
		if err != nil {
			return nil, err
		}
		var resp ReadBlobResp
		if err := resp.Unmarshal(b); err != nil {
			return nil, err
		}
		value = append(value, resp.Value...)
		n = len(resp.Value)
	}
	return value, nil
}

func (c *Client) write(ctx context.Context, h uint16, v []byte) error {
	b, err := c.transact(ctx, WriteReq{Handle: h, Value: v})
	if err != nil {
		return err
	}
	var resp WriteResp
	return resp.Unmarshal(b)
}

// Services returns the discovered services.
func (c *Client) Services() []*ClientService {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ClientService(nil), c.services...)
}

func (c *Client) String() string {
	var b strings.Builder
	for _, s := range c.Services() {
		fmt.Fprintf(&b, "Service %s%s [0x%04X-0x%04X]\n", s.uuid, uuidLabel(s.uuid), s.h, s.endh)
		for _, ch := range s.Characteristics() {
			fmt.Fprintf(&b, "  Characteristic %s%s (%s) [0x%04X value 0x%04X end 0x%04X]\n",
				ch.uuid, uuidLabel(ch.uuid), ch.props, ch.h, ch.vh, ch.endh)
			if cccd := ch.CCCD(); cccd != nil {
				fmt.Fprintf(&b, "    CCCD [0x%04X]\n", cccd.h)
			}
			for _, d := range ch.Descriptors() {
				fmt.Fprintf(&b, "    Descriptor %s%s [0x%04X]\n", d.uuid, uuidLabel(d.uuid), d.h)
			}
		}
	}
	return b.String()
}

func (s *ClientService) UUID() UUID        { return s.uuid }
func (s *ClientService) Handle() uint16    { return s.h }
func (s *ClientService) EndHandle() uint16 { return s.endh }

// Characteristics returns the discovered characteristics of s.
func (s *ClientService) Characteristics() []*ClientCharacteristic {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return append([]*ClientCharacteristic(nil), s.chars...)
}

func (c *ClientCharacteristic) UUID() UUID           { return c.uuid }
func (c *ClientCharacteristic) Handle() uint16       { return c.h }
func (c *ClientCharacteristic) ValueHandle() uint16  { return c.vh }
func (c *ClientCharacteristic) EndHandle() uint16    { return c.endh }
func (c *ClientCharacteristic) Properties() Property { return c.props }

func (c *ClientCharacteristic) client() *Client { return c.svc.client }

// Descriptors returns the discovered descriptors of c, the CCCD excluded.
func (c *ClientCharacteristic) Descriptors() []*ClientDescriptor {
	c.client().mu.Lock()
	defer c.client().mu.Unlock()
	return append([]*ClientDescriptor(nil), c.descs...)
}

// CCCD returns the discovered client characteristic configuration
// descriptor, or nil.
func (c *ClientCharacteristic) CCCD() *ClientDescriptor {
	c.client().mu.Lock()
	defer c.client().mu.Unlock()
	return c.cccd
}

// Read reads the value with a Read Request.
func (c *ClientCharacteristic) Read(ctx context.Context) ([]byte, error) {
	if c.props&CharRead == 0 {
		return nil, ErrReadNotPermitted
	}
	return c.client().read(ctx, c.vh)
}

// ReadLong reads a value longer than one PDU, continuing with Read Blob Requests.
func (c *ClientCharacteristic) ReadLong(ctx context.Context) ([]byte, error) {
	if c.props&CharRead == 0 {
		return nil, ErrReadNotPermitted
	}
	return c.client().readLong(ctx, c.vh)
}

// Write writes the value with a Write Request.
func (c *ClientCharacteristic) Write(ctx context.Context, v []byte) error {
	if c.props&CharWrite == 0 {
		return ErrWriteNotPermitted
	}
	return c.client().write(ctx, c.vh, v)
}

// WriteCommand writes the value with a Write Command, which is never answered.
func (c *ClientCharacteristic) WriteCommand(ctx context.Context, v []byte) error {
	if c.props&CharWriteNR == 0 {
		return ErrWriteNotPermitted
	}
	return c.client().conn.Send(ctx, WriteCmd{Handle: c.vh, Value: v}.Marshal())
}

// SignedWrite writes the value with a Signed Write Command.
func (c *ClientCharacteristic) SignedWrite(ctx context.Context, v []byte) error {
	if c.props&CharSignedWrite == 0 {
		return ErrWriteNotPermitted
	}
	cl := c.client()
	if cl.signer == nil {
		return ErrNoSigningKey
	}
	cmd := SignedWriteCmd{
		Handle:    c.vh,
		Value:     v,
		Signature: cl.signer.sign(attrOpSignedWriteCmd, c.vh, v),
	}
	return cl.conn.Send(ctx, cmd.Marshal())
}

// Subscribe enables every delivery c supports, notifications and/or
// indications, and calls f with each value received. f runs on the
// receive loop.
func (c *ClientCharacteristic) Subscribe(ctx context.Context, f func(value []byte)) error {
	if c.props&(CharNotify|CharIndicate) == 0 {
		return ErrSubscribeNotPermitted
	}
	cccd := c.CCCD()
	if cccd == nil {
		return ErrCCCDNotDiscovered
	}
	var flags uint16
	if c.props&CharNotify != 0 {
		flags |= gattCCCNotifyFlag
	}
	if c.props&CharIndicate != 0 {
		flags |= gattCCCIndicateFlag
	}

	cl := c.client()
	cl.subs.set(c.vh, f)
	if err := cl.write(ctx, cccd.h, order.AppendUint16(nil, flags)); err != nil {
		cl.subs.remove(c.vh)
		return fmt.Errorf("unable to enable the subscription: %w", err)
	}
	return nil
}

// Unsubscribe drops the callback and clears the CCCD.
func (c *ClientCharacteristic) Unsubscribe(ctx context.Context) error {
	cl := c.client()
	cl.subs.remove(c.vh)
	cccd := c.CCCD()
	if cccd == nil {
		return nil
	}
	if err := cl.write(ctx, cccd.h, []byte{0x00, 0x00}); err != nil {
		return fmt.Errorf("unable to disable the subscription: %w", err)
	}
	return nil
}

func (d *ClientDescriptor) UUID() UUID     { return d.uuid }
func (d *ClientDescriptor) Handle() uint16 { return d.h }

func (d *ClientDescriptor) Read(ctx context.Context) ([]byte, error) {
	return d.char.client().read(ctx, d.h)
}

func (d *ClientDescriptor) Write(ctx context.Context, v []byte) error {
	return d.char.client().write(ctx, d.h, v)
}
