// Package netdev creates and configures network devices over rtnetlink.
// Every helper expects a context opened on NETLINK_ROUTE; a request the
// kernel rejects is returned as *nl.KernelError.
package netdev

import (
	"net/netip"

	nl "github.com/khirono/go-tstnl"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// VETH_INFO_PEER from linux/veth.h
const vethInfoPeer = 1

const ackFlags = unix.NLM_F_REQUEST | unix.NLM_F_ACK

type Link struct {
	Index int32
	Name  string
	Flags uint32
}

func (l Link) Up() bool {
	return l.Flags&unix.IFF_UP != 0
}

// CreateVeth creates a veth pair.
func CreateVeth(ctx *nl.Context, name, peer string) error {
	h := nl.Header{
		Type:  unix.RTM_NEWLINK,
		Flags: ackFlags | unix.NLM_F_CREATE | unix.NLM_F_EXCL,
	}
	if err := ctx.AddMsg(h, nl.IfInfomsg{Family: unix.AF_UNSPEC}); err != nil {
		return err
	}
	attrs := nl.AttrList{
		{Type: unix.IFLA_IFNAME, Value: nl.AttrString(name)},
		{
			Type: unix.IFLA_LINKINFO,
			Children: nl.AttrList{
				{Type: unix.IFLA_INFO_KIND, Value: nl.AttrString("veth")},
				{
					Type: unix.IFLA_INFO_DATA,
					Children: nl.AttrList{
						{
							Type:  vethInfoPeer,
							Value: nl.IfInfomsg{Family: unix.AF_UNSPEC},
							Children: nl.AttrList{
								{Type: unix.IFLA_IFNAME, Value: nl.AttrString(peer)},
							},
						},
					},
				},
			},
		},
	}
	if _, err := ctx.AddAttrList(attrs); err != nil {
		return err
	}
	return ctx.SendValidate()
}

// RemoveNetdev deletes the device called name. Deleting one end of a veth
// pair removes both.
func RemoveNetdev(ctx *nl.Context, name string) error {
	h := nl.Header{Type: unix.RTM_DELLINK, Flags: ackFlags}
	if err := ctx.AddMsg(h, nl.IfInfomsg{Family: unix.AF_UNSPEC}); err != nil {
		return err
	}
	if err := ctx.AddAttr(unix.IFLA_IFNAME, nl.AttrString(name)); err != nil {
		return err
	}
	return ctx.SendValidate()
}

// SetNetdevState brings the device up or down.
func SetNetdevState(ctx *nl.Context, name string, up bool) error {
	ifi := nl.IfInfomsg{Family: unix.AF_UNSPEC, Change: unix.IFF_UP}
	if up {
		ifi.Flags = unix.IFF_UP
	}
	h := nl.Header{Type: unix.RTM_NEWLINK, Flags: ackFlags}
	if err := ctx.AddMsg(h, ifi); err != nil {
		return err
	}
	if err := ctx.AddAttr(unix.IFLA_IFNAME, nl.AttrString(name)); err != nil {
		return err
	}
	return ctx.SendValidate()
}

// AddAddr assigns addr to the device called name. The device is looked up
// in the namespace of the context's socket.
func AddAddr(ctx *nl.Context, name string, addr netip.Prefix) error {
	if !addr.IsValid() {
		return errors.Errorf("invalid address %v", addr)
	}
	link, err := LinkByName(ctx, name)
	if err != nil {
		return err
	}
	ifa := nl.IfAddrmsg{
		Family:    unix.AF_INET,
		Prefixlen: uint8(addr.Bits()),
		Scope:     unix.RT_SCOPE_UNIVERSE,
		Index:     uint32(link.Index),
	}
	if addr.Addr().Is6() {
		ifa.Family = unix.AF_INET6
	}
	h := nl.Header{Type: unix.RTM_NEWADDR, Flags: ackFlags | unix.NLM_F_CREATE | unix.NLM_F_EXCL}
	if err := ctx.AddMsg(h, ifa); err != nil {
		return err
	}
	ip := nl.Bytes(addr.Addr().AsSlice())
	attrs := nl.AttrList{
		{Type: unix.IFA_LOCAL, Value: ip},
		{Type: unix.IFA_ADDRESS, Value: ip},
	}
	if _, err := ctx.AddAttrList(attrs); err != nil {
		return err
	}
	return ctx.SendValidate()
}

// LinkByName asks the kernel for the device called name.
func LinkByName(ctx *nl.Context, name string) (Link, error) {
	h := nl.Header{Type: unix.RTM_GETLINK, Flags: unix.NLM_F_REQUEST}
	if err := ctx.AddMsg(h, nl.IfInfomsg{Family: unix.AF_UNSPEC}); err != nil {
		return Link{}, err
	}
	if err := ctx.AddAttr(unix.IFLA_IFNAME, nl.AttrString(name)); err != nil {
		return Link{}, err
	}
	msgs, err := ctx.Do()
	if err != nil {
		return Link{}, err
	}
	for _, msg := range msgs {
		if msg.Header.Type == unix.RTM_NEWLINK {
			return DecodeLink(msg.Body)
		}
	}
	return Link{}, errors.Errorf("no link in reply for %s", name)
}

// Links dumps the devices visible in the context's network namespace.
func Links(ctx *nl.Context) ([]Link, error) {
	h := nl.Header{Type: unix.RTM_GETLINK, Flags: unix.NLM_F_REQUEST | unix.NLM_F_DUMP}
	if err := ctx.AddMsg(h, nl.IfInfomsg{Family: unix.AF_UNSPEC}); err != nil {
		return nil, err
	}
	msgs, err := ctx.Do()
	if err != nil {
		return nil, err
	}
	links := make([]Link, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Header.Type != unix.RTM_NEWLINK {
			continue
		}
		link, err := DecodeLink(msg.Body)
		if err != nil {
			return links, err
		}
		links = append(links, link)
	}
	return links, nil
}

// DecodeLink decodes the body of an RTM_NEWLINK or RTM_DELLINK message.
func DecodeLink(b []byte) (Link, error) {
	ifi, n, err := nl.DecodeIfInfomsg(b)
	if err != nil {
		return Link{}, errors.Wrap(err, "decoding ifinfomsg")
	}
	link := Link{Index: ifi.Index, Flags: ifi.Flags}
	attrs, err := nl.ParseAttrs(b[n:])
	if err != nil {
		return link, err
	}
	for _, a := range attrs {
		if a.MaskedType() == unix.IFLA_IFNAME {
			link.Name, _, _ = nl.DecodeAttrString(a.Value)
		}
	}
	return link, nil
}
