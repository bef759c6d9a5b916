package gatt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ctxflow"
	"github.com/xaionaro-go/netgatt/util"
)

// DefaultMaxMTU is the largest MTU ATT allows.
const DefaultMaxMTU = 517

var (
	ErrAlreadyBound = errors.New("connection is already bound to a transport")
	ErrNotBound     = errors.New("connection is not bound to a transport")
	ErrClosed       = errors.New("connection is closed")
	ErrRoleBound    = errors.New("role is already attached to the connection")
)

// role is the server or client side attached to a Conn.
type role interface {
	// handlePacket processes one PDU on the receive loop and
	// returns a PDU to send back, if any.
	handlePacket(ctx context.Context, pdu []byte) []byte

	// handleDisconnect is called once when the connection is torn down.
	handleDisconnect(ctx context.Context, err error)
}

// Conn frames ATT PDUs over a reliable transport and routes received
// PDUs to at most one Server and one Client.
//
// In stream mode every PDU is prefixed by its 1-byte length and a
// 0-length frame tears the connection down. In datagram mode every
// read and write carries exactly one PDU.
type Conn struct {
	loop ctxflow.StartStopper[ctxflow.StartStopperBackendFuncs]

	sendMu  sync.Mutex
	rwc     io.ReadWriteCloser
	stream  bool
	closed  bool
	err     error
	sendMTU uint16
	recvMTU uint16
	maxMTU  uint16

	roleMu sync.Mutex
	server role
	client role

	pool      *util.BytePool
	closeOnce sync.Once
	doneCh    chan struct{}
}

// NewConn returns an unbound Conn.
func NewConn(opts ...Option) (*Conn, error) {
	c := &Conn{
		sendMTU: DefaultLEMTU,
		recvMTU: DefaultLEMTU,
		maxMTU:  DefaultMaxMTU,
		doneCh:  make(chan struct{}),
	}
	c.loop = ctxflow.StartStopper[ctxflow.StartStopperBackendFuncs]{
		StartStopper: ctxflow.StartStopperBackendFuncs{
			StartFunc: c.doStartLoop,
			StopFunc:  c.doStopLoop,
		},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("unable to apply an option: %w", err)
		}
	}
	return c, nil
}

// Bind takes ownership of rwc and starts the receive loop.
func (c *Conn) Bind(ctx context.Context, rwc io.ReadWriteCloser, stream bool) error {
	c.sendMu.Lock()
	switch {
	case c.closed:
		c.sendMu.Unlock()
		return ErrClosed
	case c.rwc != nil:
		c.sendMu.Unlock()
		return ErrAlreadyBound
	}
	c.rwc, c.stream = rwc, stream
	if stream {
		c.sendMTU = min(c.sendMTU, MaxStreamMTU)
		c.recvMTU = min(c.recvMTU, MaxStreamMTU)
		c.maxMTU = min(c.maxMTU, MaxStreamMTU)
	}
	c.pool = util.NewBytePool(int(max(c.maxMTU, c.recvMTU)), 4)
	c.sendMu.Unlock()

	logger.Debugf(ctx, "binding the connection (stream: %t)", stream)
	if err := c.loop.Start(ctx); err != nil {
		return fmt.Errorf("unable to start the receive loop: %w", err)
	}
	return nil
}

func (c *Conn) doStartLoop(ctx context.Context, _ ...any) error {
	go c.receiveLoop(ctx)
	return nil
}

func (c *Conn) doStopLoop(ctx context.Context) error {
	c.teardown(ctx, nil)
	return nil
}

func (c *Conn) attach(r role, asServer bool) error {
	c.roleMu.Lock()
	defer c.roleMu.Unlock()
	slot := &c.client
	if asServer {
		slot = &c.server
	}
	if *slot != nil {
		return ErrRoleBound
	}
	*slot = r
	return nil
}

func (c *Conn) roles() (server, client role) {
	c.roleMu.Lock()
	defer c.roleMu.Unlock()
	return c.server, c.client
}

// SendMTU returns the largest PDU this side may send.
func (c *Conn) SendMTU() uint16 {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendMTU
}

// RecvMTU returns the MTU announced to the peer.
func (c *Conn) RecvMTU() uint16 {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.recvMTU
}

// setSendMTU applies a negotiated MTU, clamped to [DefaultLEMTU, maxMTU].
func (c *Conn) setSendMTU(peer uint16) uint16 {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.sendMTU = max(min(peer, c.maxMTU), DefaultLEMTU)
	return c.sendMTU
}

// setRecvMTU sets the MTU announced to the peer, clamped to [DefaultLEMTU, maxMTU].
func (c *Conn) setRecvMTU(mtu uint16) uint16 {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.recvMTU = max(min(mtu, c.maxMTU), DefaultLEMTU)
	return c.recvMTU
}

// Send writes one PDU. A PDU longer than the send MTU is truncated.
func (c *Conn) Send(ctx context.Context, pdu []byte) error {
	if len(pdu) == 0 {
		return fmt.Errorf("%w: empty PDU", ErrInvalidLength)
	}
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return ErrClosed
	}
	if c.rwc == nil {
		c.sendMu.Unlock()
		return ErrNotBound
	}
	if len(pdu) > int(c.sendMTU) {
		logger.Warnf(ctx, "truncating a %d-byte %s to the send MTU of %d", len(pdu), OpcodeName(pdu[0]), c.sendMTU)
		pdu = pdu[:c.sendMTU]
	}
	frame := pdu
	if c.stream {
		frame = make([]byte, 1+len(pdu))
		frame[0] = byte(len(pdu))
		copy(frame[1:], pdu)
	}
	logger.Tracef(ctx, "send % X", pdu)
	_, err := c.rwc.Write(frame)
	c.sendMu.Unlock()

	if err != nil {
		err = fmt.Errorf("unable to write a %s: %w", OpcodeName(pdu[0]), err)
		logger.Errorf(ctx, "%v", err)
		c.teardown(ctx, err)
		return err
	}
	return nil
}

// Close sends the teardown frame in stream mode, stops the receive
// loop and closes the transport.
func (c *Conn) Close() error {
	ctx := context.Background()
	c.sendMu.Lock()
	bound, stream := c.rwc != nil && !c.closed, c.stream
	c.sendMu.Unlock()
	if !bound {
		c.teardown(ctx, nil)
		return nil
	}
	if stream {
		c.sendMu.Lock()
		if !c.closed {
			if _, err := c.rwc.Write([]byte{0}); err != nil {
				logger.Debugf(ctx, "unable to send the teardown frame: %v", err)
			}
		}
		c.sendMu.Unlock()
	}
	return c.loop.Stop()
}

// Done is closed once the connection is torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.doneCh
}

// Err returns the error that tore the connection down.
// It is nil for a clean close or while the connection is up.
func (c *Conn) Err() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.err
}

// teardown runs once: it marks the connection closed, notifies the
// roles and only then closes the transport.
func (c *Conn) teardown(ctx context.Context, err error) {
	c.closeOnce.Do(func() {
		logger.Debugf(ctx, "connection teardown: %v", err)
		c.sendMu.Lock()
		c.closed, c.err = true, err
		rwc, pool := c.rwc, c.pool
		c.sendMu.Unlock()
		close(c.doneCh)

		server, client := c.roles()
		if client != nil {
			client.handleDisconnect(ctx, err)
		}
		if server != nil {
			server.handleDisconnect(ctx, err)
		}
		if rwc != nil {
			if cerr := rwc.Close(); cerr != nil {
				logger.Debugf(ctx, "unable to close the transport: %v", cerr)
			}
		}
		if pool != nil {
			pool.Close()
		}
	})
}

func (c *Conn) receiveLoop(ctx context.Context) {
	logger.Tracef(ctx, "receiveLoop")
	defer logger.Tracef(ctx, "/receiveLoop")

	var err error
	for {
		var pdu []byte
		if pdu, err = c.readPDU(); err != nil || pdu == nil {
			break
		}
		c.dispatch(ctx, pdu)
	}
	if err != nil {
		select {
		case <-c.doneCh:
			// closed locally, the read error is a consequence
			return
		default:
		}
		logger.Debugf(ctx, "receive loop stopped: %v", err)
	}
	c.teardown(ctx, err)
}

// readPDU returns nil and no error on a stream teardown frame.
func (c *Conn) readPDU() ([]byte, error) {
	if c.stream {
		var hdr [1]byte
		if _, err := io.ReadFull(c.rwc, hdr[:]); err != nil {
			return nil, err
		}
		if hdr[0] == 0 {
			return nil, nil
		}
		pdu := make([]byte, hdr[0])
		if _, err := io.ReadFull(c.rwc, pdu); err != nil {
			return nil, fmt.Errorf("unable to read a %d-byte frame: %w", hdr[0], err)
		}
		return pdu, nil
	}

	buf := c.pool.Get()
	defer c.pool.Put(buf)
	n, err := c.rwc.Read(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	return cloneBytes(buf[:n]), nil
}

func (c *Conn) dispatch(ctx context.Context, pdu []byte) {
	logger.Tracef(ctx, "recv % X", pdu)
	op := pdu[0]
	server, client := c.roles()

	var resp []byte
	switch {
	case op == attrOpMtuReq:
		resp = c.handleMTU(ctx, pdu)
	case op == attrOpError && len(pdu) > 1 && IsRequest(pdu[1]),
		IsResponse(op), op == attrOpHandleNotify, op == attrOpHandleInd:
		if client == nil {
			logger.Warnf(ctx, "dropping a %s: no client attached", OpcodeName(op))
			return
		}
		resp = client.handlePacket(ctx, pdu)
	case server != nil:
		resp = server.handlePacket(ctx, pdu)
	case IsCommand(op), op == attrOpHandleCnf, op == attrOpError:
		logger.Debugf(ctx, "dropping a %s: no server attached", OpcodeName(op))
	default:
		resp = attErrorResp(op, 0x0000, AttrECodeReqNotSupp)
	}
	if resp == nil {
		return
	}
	if err := c.Send(ctx, resp); err != nil {
		logger.Debugf(ctx, "unable to answer a %s: %v", OpcodeName(op), err)
	}
}

func (c *Conn) handleMTU(ctx context.Context, pdu []byte) []byte {
	var req MTUReq
	if err := req.Unmarshal(pdu); err != nil {
		return attErrorResp(attrOpMtuReq, 0x0000, AttrECodeInvalidPDU)
	}
	mtu := c.setSendMTU(req.MTU)
	logger.Debugf(ctx, "peer MTU %d, send MTU is now %d", req.MTU, mtu)
	return MTUResp{MTU: c.RecvMTU()}.Marshal()
}
