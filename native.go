package nl

import (
	"encoding/binary"

	ne "github.com/josharian/native"
)

// Netlink headers and attributes are in host byte order.
var native binary.ByteOrder = ne.Endian

// Align rounds n up to the netlink alignment boundary.
func Align(n int) int {
	return (n + NLMSG_ALIGNTO - 1) &^ (NLMSG_ALIGNTO - 1)
}
