package gatt

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// isAttrNotFound reports whether err ends a paginated walk.
func isAttrNotFound(err error) bool {
	return errors.Is(err, AttrECodeAttrNotFound)
}

// nextPage returns the start handle of the page following one that ended
// at last, or false once the range [start, end] is exhausted.
func nextPage(start, last, end uint16) (uint16, bool) {
	if last < start || last >= end {
		return 0, false
	}
	return last + 1, true
}

// mergeByHandle adds found to have, keeping the objects of have for
// handles present in both. It returns the merged list sorted by handle
// and the members of it that correspond to found.
func mergeByHandle[T any](have, found []T, handle func(T) uint16) (merged, matched []T) {
	byHandle := make(map[uint16]T, len(have))
	for _, v := range have {
		byHandle[handle(v)] = v
	}
	merged = append(merged, have...)
	for _, v := range found {
		if old, ok := byHandle[handle(v)]; ok {
			matched = append(matched, old)
			continue
		}
		byHandle[handle(v)] = v
		merged = append(merged, v)
		matched = append(matched, v)
	}
	sort.Slice(merged, func(i, j int) bool { return handle(merged[i]) < handle(merged[j]) })
	return merged, matched
}

// DiscoverServices walks the whole handle space for primary services
// and replaces the discovered service list with the result.
func (c *Client) DiscoverServices(ctx context.Context) ([]*ClientService, error) {
	var ss []*ClientService
	for start, more := uint16(0x0001), true; more; {
		b, err := c.transact(ctx, ReadByGroupReq{Start: start, End: 0xFFFF, Type: attrPrimaryServiceUUID})
		if isAttrNotFound(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to discover services from 0x%04X: %w", start, err)
		}
		var resp ReadByGroupResp
		if err := resp.Unmarshal(b); err != nil {
			return nil, err
		}
		for _, e := range resp.Entries {
			u, err := wireUUID(e.Value)
			if err != nil {
				return nil, fmt.Errorf("service 0x%04X: %w", e.Handle, err)
			}
			ss = append(ss, &ClientService{client: c, uuid: u, h: e.Handle, endh: e.EndGroup})
		}
		start, more = nextPage(start, resp.Entries[len(resp.Entries)-1].EndGroup, 0xFFFF)
	}
	logger.Debugf(ctx, "discovered %d services", len(ss))

	c.mu.Lock()
	c.services = ss
	c.mu.Unlock()
	return append([]*ClientService(nil), ss...), nil
}

// DiscoverServicesByUUID looks up the primary services of type u and merges
// them into the discovered service list. It returns the services found.
func (c *Client) DiscoverServicesByUUID(ctx context.Context, u UUID) ([]*ClientService, error) {
	var found []*ClientService
	for start, more := uint16(0x0001), true; more; {
		b, err := c.transact(ctx, FindByTypeValueReq{
			Start: start,
			End:   0xFFFF,
			Type:  attrPrimaryServiceUUID,
			Value: u.Bytes(),
		})
		if isAttrNotFound(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to discover services %s from 0x%04X: %w", u, start, err)
		}
		var resp FindByTypeValueResp
		if err := resp.Unmarshal(b); err != nil {
			return nil, err
		}
		for _, e := range resp.Entries {
			found = append(found, &ClientService{client: c, uuid: u, h: e.Handle, endh: e.EndGroup})
		}
		start, more = nextPage(start, resp.Entries[len(resp.Entries)-1].EndGroup, 0xFFFF)
	}
	logger.Debugf(ctx, "discovered %d services of type %s", len(found), u)

	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []*ClientService
	c.services, matched = mergeByHandle(c.services, found, func(s *ClientService) uint16 { return s.h })
	return matched, nil
}

func (s *ClientService) discoverCharacteristics(ctx context.Context) ([]*ClientCharacteristic, error) {
	var cc []*ClientCharacteristic
	start, more := s.h+1, s.h < s.endh
	for more {
		b, err := s.client.transact(ctx, ReadByTypeReq{Start: start, End: s.endh, Type: attrCharacteristicUUID})
		if isAttrNotFound(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to discover characteristics of %s from 0x%04X: %w", s.uuid, start, err)
		}
		var resp ReadByTypeResp
		if err := resp.Unmarshal(b); err != nil {
			return nil, err
		}
		for _, e := range resp.Entries {
			c, err := s.parseDeclaration(e)
			if err != nil {
				return nil, err
			}
			cc = append(cc, c)
		}
		start, more = nextPage(start, resp.Entries[len(resp.Entries)-1].Handle, s.endh)
	}
	for i, c := range cc {
		if i+1 < len(cc) {
			c.endh = cc[i+1].h - 1
		} else {
			c.endh = s.endh
		}
	}
	return cc, nil
}

// parseDeclaration decodes a characteristic declaration value:
// properties, value handle and characteristic UUID.
func (s *ClientService) parseDeclaration(e HandleValue) (*ClientCharacteristic, error) {
	if len(e.Value) != 5 && len(e.Value) != 19 {
		return nil, fmt.Errorf("%w: characteristic declaration 0x%04X of %d bytes", ErrInvalidLength, e.Handle, len(e.Value))
	}
	u, err := wireUUID(e.Value[3:])
	if err != nil {
		return nil, err
	}
	return &ClientCharacteristic{
		svc:   s,
		uuid:  u,
		props: Property(e.Value[0]),
		h:     e.Handle,
		vh:    order.Uint16(e.Value[1:3]),
	}, nil
}

// DiscoverCharacteristics discovers every characteristic of s and
// replaces the discovered characteristic list.
func (s *ClientService) DiscoverCharacteristics(ctx context.Context) ([]*ClientCharacteristic, error) {
	cc, err := s.discoverCharacteristics(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debugf(ctx, "discovered %d characteristics of %s", len(cc), s.uuid)

	s.client.mu.Lock()
	s.chars = cc
	s.client.mu.Unlock()
	return append([]*ClientCharacteristic(nil), cc...), nil
}

// DiscoverCharacteristicsByUUID discovers the characteristics of type u
// and merges them into the discovered characteristic list. The whole
// service range is walked so that end handles are exact.
func (s *ClientService) DiscoverCharacteristicsByUUID(ctx context.Context, u UUID) ([]*ClientCharacteristic, error) {
	cc, err := s.discoverCharacteristics(ctx)
	if err != nil {
		return nil, err
	}
	var found []*ClientCharacteristic
	for _, c := range cc {
		if c.uuid.Equal(u) {
			found = append(found, c)
		}
	}
	logger.Debugf(ctx, "discovered %d characteristics of type %s in %s", len(found), u, s.uuid)

	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	var matched []*ClientCharacteristic
	s.chars, matched = mergeByHandle(s.chars, found, func(c *ClientCharacteristic) uint16 { return c.h })
	return matched, nil
}

// DiscoverDescriptors discovers the descriptors of c. The CCCD, if any,
// is kept apart and returned by CCCD.
func (c *ClientCharacteristic) DiscoverDescriptors(ctx context.Context) ([]*ClientDescriptor, error) {
	cl := c.client()
	var (
		dd   []*ClientDescriptor
		cccd *ClientDescriptor
	)
	start, more := c.h+1, c.h < c.endh
	for more {
		b, err := cl.transact(ctx, FindInfoReq{Start: start, End: c.endh})
		if isAttrNotFound(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to discover descriptors of %s from 0x%04X: %w", c.uuid, start, err)
		}
		var resp FindInfoResp
		if err := resp.Unmarshal(b); err != nil {
			return nil, err
		}
		for _, e := range resp.Entries {
			d := &ClientDescriptor{char: c, uuid: e.UUID, h: e.Handle}
			switch {
			case e.Handle == c.vh:
			case e.UUID.Equal(attrClientCharacteristicConfigUUID):
				cccd = d
			default:
				dd = append(dd, d)
			}
		}
		start, more = nextPage(start, resp.Entries[len(resp.Entries)-1].Handle, c.endh)
	}
	logger.Debugf(ctx, "discovered %d descriptors of %s (CCCD: %t)", len(dd), c.uuid, cccd != nil)

	cl.mu.Lock()
	c.descs, c.cccd = dd, cccd
	cl.mu.Unlock()
	return append([]*ClientDescriptor(nil), dd...), nil
}
