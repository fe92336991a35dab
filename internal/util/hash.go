// Package util provides shared logging, statistics and identification helpers.
package util

import (
	"hash/fnv"
	"net"
)

// TransferID computes a 4-byte hash from the two endpoints of a transfer
// (local TID, remote TID). It only labels log lines and need not be reversible.
// Either address may be nil while a requester is still waiting for its peer.
func TransferID(local, remote net.Addr) uint32 {
	h := fnv.New32a()
	if local != nil {
		h.Write([]byte(local.String()))
	}
	h.Write([]byte{'|'})
	if remote != nil {
		h.Write([]byte(remote.String()))
	}
	return h.Sum32()
}
