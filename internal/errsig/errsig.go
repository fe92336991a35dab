// Package errsig builds and transmits TFTP ERROR packets. Signals are fire
// and forget: ERROR packets are never acknowledged and never retransmitted.
package errsig

import (
	"errors"
	"net"

	"github.com/1ureka/tftp3303/internal/protocol"
	"github.com/1ureka/tftp3303/internal/storage"
	"github.com/1ureka/tftp3303/internal/util"
)

// Kind is the category of a failure worth reporting to a peer.
type Kind int

const (
	NotDefined Kind = iota
	FileNotFound
	AccessViolation
	DiskFull
	IllegalOperation
	UnknownTransferID
	FileAlreadyExists
)

var kindCodes = map[Kind]protocol.ErrorCode{
	NotDefined:        protocol.ErrNotDefined,
	FileNotFound:      protocol.ErrFileNotFound,
	AccessViolation:   protocol.ErrAccessViolation,
	DiskFull:          protocol.ErrDiskFull,
	IllegalOperation:  protocol.ErrIllegalOperation,
	UnknownTransferID: protocol.ErrUnknownTransferID,
	FileAlreadyExists: protocol.ErrFileAlreadyExists,
}

// Code returns the wire error code for k.
func (k Kind) Code() protocol.ErrorCode {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return protocol.ErrNotDefined
}

func (k Kind) String() string { return k.Code().String() }

// Sender is the part of a transport errsig needs.
type Sender interface {
	SendTo(pkt protocol.Packet, to *net.UDPAddr) error
}

// Packet builds the ERROR packet for kind with detail as its message.
func Packet(kind Kind, detail string) *protocol.Error {
	return protocol.NewError(kind.Code(), detail)
}

// Signal sends one ERROR packet to the given endpoint. A send failure is only
// logged; the caller's control flow never depends on it.
func Signal(s Sender, kind Kind, detail string, to *net.UDPAddr) {
	pkt := Packet(kind, detail)
	if err := s.SendTo(pkt, to); err != nil {
		util.LogWarning("failed to send %s to %s: %v", pkt, to, err)
		return
	}
	util.LogDebug("sent %s to %s", pkt, to)
}

// FromError maps a storage failure onto the ERROR kind reported to the peer.
// Unrecognised errors map to NotDefined.
func FromError(err error) Kind {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return FileNotFound
	case errors.Is(err, storage.ErrAccessDenied):
		return AccessViolation
	case errors.Is(err, storage.ErrDiskFull):
		return DiskFull
	case errors.Is(err, storage.ErrAlreadyExists):
		return FileAlreadyExists
	}
	return NotDefined
}
