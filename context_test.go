package nl

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mdlayher/netlink"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const vethInfoPeer = 1

func vethAttrs(name, peer string) AttrList {
	return AttrList{
		{Type: unix.IFLA_IFNAME, Value: AttrString(name)},
		{
			Type: unix.IFLA_LINKINFO,
			Children: AttrList{
				{Type: unix.IFLA_INFO_KIND, Value: AttrString("veth")},
				{
					Type: unix.IFLA_INFO_DATA,
					Children: AttrList{
						{
							Type:  vethInfoPeer,
							Value: IfInfomsg{},
							Children: AttrList{
								{Type: unix.IFLA_IFNAME, Value: AttrString(peer)},
							},
						},
					},
				},
			},
		},
	}
}

func findAttr(t *testing.T, b []byte, typ int) RawAttr {
	t.Helper()
	attrs, err := ParseAttrs(b)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range attrs {
		if a.MaskedType() == typ {
			return a
		}
	}
	t.Fatalf("attribute %d not found", typ)
	return RawAttr{}
}

func TestAddMsg_Single(t *testing.T) {
	ctx, peer := newMockContext(t)
	h := Header{Type: unix.RTM_GETLINK, Flags: unix.NLM_F_REQUEST | unix.NLM_F_DUMP}
	if err := ctx.AddMsg(h, IfInfomsg{Family: unix.AF_UNSPEC}); err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.Send(); err != nil {
		t.Fatal(err)
	}
	msgs := peer.ReadMsgs(t)
	want := []Header{
		{
			Len:   SizeofHeader + SizeofIfInfomsg,
			Type:  unix.RTM_GETLINK,
			Flags: unix.NLM_F_REQUEST | unix.NLM_F_DUMP,
			Seq:   1,
		},
	}
	var got []Header
	for _, m := range msgs {
		got = append(got, m.Header)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}
}

func TestAddMsg_Multi(t *testing.T) {
	ctx, peer := newMockContext(t)
	for i := 0; i < 3; i++ {
		h := Header{Type: unix.RTM_NEWADDR, Flags: unix.NLM_F_REQUEST}
		if err := ctx.AddMsg(h, Bytes(make([]byte, i+1))); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := ctx.Send(); err != nil {
		t.Fatal(err)
	}
	msgs := peer.ReadMsgs(t)
	multi := uint16(unix.NLM_F_REQUEST | unix.NLM_F_MULTI)
	want := []Header{
		{Len: 20, Type: unix.RTM_NEWADDR, Flags: multi, Seq: 1},
		{Len: 20, Type: unix.RTM_NEWADDR, Flags: multi, Seq: 2},
		{Len: 20, Type: unix.RTM_NEWADDR, Flags: multi, Seq: 3},
		{Len: 16, Type: unix.NLMSG_DONE, Flags: 0, Seq: 4},
	}
	var got []Header
	for _, m := range msgs {
		got = append(got, m.Header)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}
}

func TestAddMsg_NewEpochAfterSend(t *testing.T) {
	ctx, peer := newMockContext(t)
	addAckedMsgs(t, ctx, 2)
	if _, err := ctx.Send(); err != nil {
		t.Fatal(err)
	}
	peer.ReadMsgs(t)
	if err := ctx.AddAttr(unix.IFLA_MTU, AttrU32(1500)); !errors.Is(err, ErrNoMsg) {
		t.Errorf("want: %v; but got %v\n", ErrNoMsg, err)
	}

	addAckedMsgs(t, ctx, 1)
	msgs := sentMsgs(t, ctx)
	if len(msgs) != 1 {
		t.Fatalf("want: %v; but got %v\n", 1, len(msgs))
	}
	if msgs[0].Header.Flags&unix.NLM_F_MULTI != 0 {
		t.Errorf("single message flagged NLM_F_MULTI: %v", msgs[0].Header)
	}
	if msgs[0].Header.Seq != 4 {
		t.Errorf("want: %v; but got %v\n", 4, msgs[0].Header.Seq)
	}
}

func TestAddAttr_NoMsg(t *testing.T) {
	ctx, _ := newMockContext(t)
	err := ctx.AddAttr(unix.IFLA_IFNAME, AttrString("lo"))
	if !errors.Is(err, ErrNoMsg) {
		t.Errorf("want: %v; but got %v\n", ErrNoMsg, err)
	}
	if _, err := ctx.AddAttrList(vethAttrs("a", "b")); !errors.Is(err, ErrNoMsg) {
		t.Errorf("want: %v; but got %v\n", ErrNoMsg, err)
	}
}

func TestAddAttr_RoundTrip(t *testing.T) {
	ctx, _ := newMockContext(t)
	for i := 0; i < 2; i++ {
		h := Header{Type: unix.RTM_NEWLINK, Flags: unix.NLM_F_REQUEST}
		if err := ctx.AddMsg(h, IfInfomsg{Index: int32(i + 7)}); err != nil {
			t.Fatal(err)
		}
		if err := ctx.AddAttr(unix.IFLA_MTU, AttrU32(1400+uint32(i))); err != nil {
			t.Fatal(err)
		}
		if err := ctx.AddAttr(unix.IFLA_IFNAME, AttrString("dummy")); err != nil {
			t.Fatal(err)
		}
	}
	msgs := sentMsgs(t, ctx)
	if len(msgs) != 2 {
		t.Fatalf("want: %v; but got %v\n", 2, len(msgs))
	}
	for i, m := range msgs {
		ifi, n, err := DecodeIfInfomsg(m.Body)
		if err != nil {
			t.Fatal(err)
		}
		if ifi.Index != int32(i+7) {
			t.Errorf("want: %v; but got %v\n", i+7, ifi.Index)
		}
		attrs, err := ParseAttrs(m.Body[n:])
		if err != nil {
			t.Fatal(err)
		}
		if len(attrs) != 2 {
			t.Fatalf("want: %v; but got %v\n", 2, len(attrs))
		}
		mtu, _, _ := DecodeAttrU32(attrs[0].Value)
		if attrs[0].MaskedType() != unix.IFLA_MTU || mtu != 1400+uint32(i) {
			t.Errorf("unexpected mtu attribute %v %v", attrs[0].AttrHdr, mtu)
		}
		name, _, _ := DecodeAttrString(attrs[1].Value)
		if attrs[1].MaskedType() != unix.IFLA_IFNAME || name != "dummy" {
			t.Errorf("unexpected name attribute %v %q", attrs[1].AttrHdr, name)
		}
	}
}

func TestContext_Grow(t *testing.T) {
	ctx, _ := newMockContext(t, WithBufferSize(32))
	h := Header{Type: unix.RTM_NEWLINK, Flags: unix.NLM_F_REQUEST}
	if err := ctx.AddMsg(h, IfInfomsg{Index: 3}); err != nil {
		t.Fatal(err)
	}
	if err := ctx.AddAttr(unix.IFLA_IFNAME, AttrString("before")); err != nil {
		t.Fatal(err)
	}
	before := bytes.Clone(ctx.Bytes())
	size := len(ctx.buf)

	if err := ctx.AddAttr(unix.IFLA_IFALIAS, Bytes(bytes.Repeat([]byte{0xab}, 300))); err != nil {
		t.Fatal(err)
	}
	if len(ctx.buf) <= size {
		t.Fatalf("buffer did not grow: %v", len(ctx.buf))
	}
	if !bytes.Equal(ctx.Bytes()[4:len(before)], before[4:]) {
		t.Errorf("bytes changed across growth")
	}
	// the open message is still usable after the move
	if err := ctx.AddAttr(unix.IFLA_MTU, AttrU32(9000)); err != nil {
		t.Fatal(err)
	}
	msgs := sentMsgs(t, ctx)
	if len(msgs) != 1 {
		t.Fatalf("want: %v; but got %v\n", 1, len(msgs))
	}
	if int(msgs[0].Header.Len) != len(ctx.Bytes()) {
		t.Errorf("want: %v; but got %v\n", len(ctx.Bytes()), msgs[0].Header.Len)
	}
	attrs, err := ParseAttrs(msgs[0].Body[SizeofIfInfomsg:])
	if err != nil {
		t.Fatal(err)
	}
	var types []int
	for _, a := range attrs {
		types = append(types, a.MaskedType())
	}
	want := []int{unix.IFLA_IFNAME, unix.IFLA_IFALIAS, unix.IFLA_MTU}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}

	// growth between messages keeps the previous ones intact
	for i := 0; i < 20; i++ {
		if err := ctx.AddMsg(h, IfInfomsg{Index: int32(100 + i)}); err != nil {
			t.Fatal(err)
		}
	}
	msgs = sentMsgs(t, ctx)
	if len(msgs) != 21 {
		t.Fatalf("want: %v; but got %v\n", 21, len(msgs))
	}
	for i, m := range msgs[1:] {
		ifi, _, err := DecodeIfInfomsg(m.Body)
		if err != nil {
			t.Fatal(err)
		}
		if ifi.Index != int32(100+i) {
			t.Errorf("want: %v; but got %v\n", 100+i, ifi.Index)
		}
	}
}

func TestAddAttrList_Veth(t *testing.T) {
	ctx, _ := newMockContext(t)
	h := Header{Type: unix.RTM_NEWLINK, Flags: unix.NLM_F_REQUEST | unix.NLM_F_CREATE}
	if err := ctx.AddMsg(h, IfInfomsg{}); err != nil {
		t.Fatal(err)
	}
	n, err := ctx.AddAttrList(vethAttrs("veth0", "peer0"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("want: %v; but got %v\n", 2, n)
	}

	msgs := sentMsgs(t, ctx)
	body := msgs[0].Body[SizeofIfInfomsg:]
	linkinfo := findAttr(t, body, unix.IFLA_LINKINFO)
	data := findAttr(t, linkinfo.Value, unix.IFLA_INFO_DATA)
	peer := findAttr(t, data.Value, vethInfoPeer)
	name := findAttr(t, peer.Value[SizeofIfInfomsg:], unix.IFLA_IFNAME)
	s, _, _ := DecodeAttrString(name.Value)
	if s != "peer0" {
		t.Errorf("want: %v; but got %v\n", "peer0", s)
	}
	// types go out exactly as given
	if linkinfo.Type != unix.IFLA_LINKINFO || peer.Type != vethInfoPeer {
		t.Errorf("unexpected types: linkinfo %#x peer %#x", linkinfo.Type, peer.Type)
	}
}

func TestAddAttrList_VethNetlinkDecoder(t *testing.T) {
	ctx, _ := newMockContext(t)
	h := Header{Type: unix.RTM_NEWLINK, Flags: unix.NLM_F_REQUEST | unix.NLM_F_CREATE}
	if err := ctx.AddMsg(h, IfInfomsg{}); err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.AddAttrList(vethAttrs("veth0", "peer0")); err != nil {
		t.Fatal(err)
	}

	var m netlink.Message
	if err := m.UnmarshalBinary(ctx.Bytes()); err != nil {
		t.Fatal(err)
	}
	if m.Header.Sequence != 1 || uint16(m.Header.Type) != unix.RTM_NEWLINK {
		t.Fatalf("unexpected header %+v", m.Header)
	}
	ad, err := netlink.NewAttributeDecoder(m.Data[SizeofIfInfomsg:])
	if err != nil {
		t.Fatal(err)
	}
	var kind, name, peer string
	for ad.Next() {
		switch ad.Type() {
		case unix.IFLA_IFNAME:
			name = ad.String()
		case unix.IFLA_LINKINFO:
			ad.Nested(func(nad *netlink.AttributeDecoder) error {
				for nad.Next() {
					switch nad.Type() {
					case unix.IFLA_INFO_KIND:
						kind = nad.String()
					case unix.IFLA_INFO_DATA:
						nad.Nested(func(dad *netlink.AttributeDecoder) error {
							for dad.Next() {
								if dad.Type() != vethInfoPeer {
									continue
								}
								pad, err := netlink.NewAttributeDecoder(dad.Bytes()[SizeofIfInfomsg:])
								if err != nil {
									return err
								}
								for pad.Next() {
									if pad.Type() == unix.IFLA_IFNAME {
										peer = pad.String()
									}
								}
								if err := pad.Err(); err != nil {
									return err
								}
							}
							return nil
						})
					}
				}
				return nil
			})
		}
	}
	if err := ad.Err(); err != nil {
		t.Fatal(err)
	}
	got := []string{name, kind, peer}
	want := []string{"veth0", "veth", "peer0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded values mismatch (-want +got):\n%s", diff)
	}
}

func TestAddAttrList_ThreeLevels(t *testing.T) {
	ctx, _ := newMockContext(t)
	if err := ctx.AddMsg(Header{Type: 42, Flags: unix.NLM_F_REQUEST}, nil); err != nil {
		t.Fatal(err)
	}
	al := AttrList{
		{
			Type: 1,
			Children: AttrList{
				{
					Type:  2,
					Value: AttrU16(0x1234),
					Children: AttrList{
						{Type: 3, Value: AttrU32(7)},
						{Type: 4, Value: AttrString("leaf")},
					},
				},
			},
		},
		{Type: 5, Value: AttrU8(1)},
	}
	if _, err := ctx.AddAttrList(al); err != nil {
		t.Fatal(err)
	}

	msgs := sentMsgs(t, ctx)
	top, err := ParseAttrs(msgs[0].Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 {
		t.Fatalf("want: %v; but got %v\n", 2, len(top))
	}
	middle, err := ParseAttrs(top[0].Value)
	if err != nil {
		t.Fatal(err)
	}
	if len(middle) != 1 {
		t.Fatalf("want: %v; but got %v\n", 1, len(middle))
	}
	leaves, err := ParseAttrs(middle[0].Value[Align(2):])
	if err != nil {
		t.Fatal(err)
	}
	// middle: header + padded u16 + both leaves
	leavesLen := 0
	for _, l := range leaves {
		leavesLen += l.Len.Align()
	}
	wantMiddle := SizeofAttrHdr + Align(2) + leavesLen
	if int(middle[0].Len) != wantMiddle {
		t.Errorf("want: %v; but got %v\n", wantMiddle, middle[0].Len)
	}
	if int(top[0].Len) != SizeofAttrHdr+wantMiddle {
		t.Errorf("want: %v; but got %v\n", SizeofAttrHdr+wantMiddle, top[0].Len)
	}
	if len(leaves) != 2 || leaves[0].MaskedType() != 3 || leaves[1].MaskedType() != 4 {
		t.Errorf("unexpected leaves %v", leaves)
	}
	if top[1].MaskedType() != 5 {
		t.Errorf("sibling after the tree: want: %v; but got %v\n", 5, top[1].MaskedType())
	}
}

func TestAddAttrList_TooLongLeavesMessage(t *testing.T) {
	ctx, _ := newMockContext(t)
	if err := ctx.AddMsg(Header{Type: 42, Flags: unix.NLM_F_REQUEST}, nil); err != nil {
		t.Fatal(err)
	}
	if err := ctx.AddAttr(1, AttrU32(1)); err != nil {
		t.Fatal(err)
	}
	before := bytes.Clone(ctx.Bytes())
	al := AttrList{
		{
			Type: 2,
			Children: AttrList{
				{Type: 3, Value: Bytes(make([]byte, 0x8000))},
				{Type: 4, Value: Bytes(make([]byte, 0x8000))},
			},
		},
	}
	_, err := ctx.AddAttrList(al)
	if !errors.Is(err, ErrAttrTooLong) {
		t.Fatalf("want: %v; but got %v\n", ErrAttrTooLong, err)
	}
	if !bytes.Equal(before, ctx.Bytes()) {
		t.Errorf("message changed by a failed AddAttrList")
	}
	if err := ctx.AddAttr(5, AttrU32(5)); err != nil {
		t.Fatal(err)
	}
}
