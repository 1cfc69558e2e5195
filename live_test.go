package nl

import (
	"testing"

	"golang.org/x/sys/unix"
)

func openRoute(t *testing.T) *Context {
	t.Helper()
	ctx, err := NewContext(unix.NETLINK_ROUTE)
	if err != nil {
		t.Skipf("cannot open NETLINK_ROUTE socket: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })
	return ctx
}

func TestLinkDump(t *testing.T) {
	ctx := openRoute(t)
	if ctx.Pid() == 0 {
		t.Errorf("kernel did not assign a port id")
	}
	h := Header{Type: unix.RTM_GETLINK, Flags: unix.NLM_F_REQUEST | unix.NLM_F_DUMP}
	if err := ctx.AddMsg(h, IfInfomsg{Family: unix.AF_UNSPEC}); err != nil {
		t.Fatal(err)
	}
	if err := ctx.SendValidate(); err != nil {
		t.Fatalf("%+v", err)
	}

	// replies left over from the first dump carry another sequence number
	if err := ctx.AddMsg(h, IfInfomsg{Family: unix.AF_UNSPEC}); err != nil {
		t.Fatal(err)
	}
	links, err := ctx.Do()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(links) == 0 {
		t.Fatalf("no links in dump")
	}
	for _, l := range links {
		if l.Header.Type != unix.RTM_NEWLINK {
			t.Errorf("want: %v; but got %v\n", unix.RTM_NEWLINK, l.Header.Type)
		}
	}
}

func TestLinkDump_Done(t *testing.T) {
	ctx := openRoute(t)
	h := Header{Type: unix.RTM_GETLINK, Flags: unix.NLM_F_REQUEST | unix.NLM_F_DUMP}
	if err := ctx.AddMsg(h, IfInfomsg{Family: unix.AF_UNSPEC}); err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.Send(); err != nil {
		t.Fatal(err)
	}
	var rsps []Msg
	for len(rsps) == 0 || rsps[len(rsps)-1].Header.Type != unix.NLMSG_DONE {
		n, err := ctx.Wait(DefaultWaitTimeout)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			t.Fatalf("dump not terminated after %d messages", len(rsps))
		}
		msgs, err := ctx.Recv()
		if err != nil {
			t.Fatal(err)
		}
		rsps = append(rsps, msgs...)
	}
	if len(rsps) < 2 {
		t.Errorf("want at least one link before NLMSG_DONE; but got %v messages\n", len(rsps))
	}
	if err := ctx.CheckAcks(rsps); err != nil {
		t.Errorf("%+v", err)
	}
}

func TestDelLink_Nonexistent(t *testing.T) {
	ctx := openRoute(t)
	h := Header{Type: unix.RTM_DELLINK, Flags: unix.NLM_F_REQUEST | unix.NLM_F_ACK}
	if err := ctx.AddMsg(h, IfInfomsg{Family: unix.AF_UNSPEC}); err != nil {
		t.Fatal(err)
	}
	if err := ctx.AddAttr(unix.IFLA_IFNAME, AttrString("tstnl-missing0")); err != nil {
		t.Fatal(err)
	}
	err := ctx.SendValidate()
	if err == nil {
		t.Fatalf("deleting a missing link succeeded")
	}
	if IsFatal(err) {
		t.Fatalf("%+v", err)
	}
	// unprivileged callers are refused before the lookup
	switch errno := ctx.LastErrno(); errno {
	case unix.ENODEV, unix.EPERM:
	default:
		t.Errorf("want: %v or %v; but got %v\n", unix.ENODEV, unix.EPERM, errno)
	}
	if Errno(err) != ctx.LastErrno() {
		t.Errorf("want: %v; but got %v\n", ctx.LastErrno(), Errno(err))
	}
}
