package types

import (
	"net"
	"strconv"
)

// StorageEndpoint is the network address of one storage node. Its position
// in the configured node list is the node's identity.
type StorageEndpoint struct {
	Host string
	Port int
}

func (e StorageEndpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e StorageEndpoint) String() string {
	return e.Address()
}

// Fragment is the byte range [Offset, Offset+Length) of an original file,
// held by the node whose index equals Index.
type Fragment struct {
	Index  int
	Offset int64
	Length int64
	Name   string
}

// End returns the exclusive end offset of the fragment.
func (f Fragment) End() int64 {
	return f.Offset + f.Length
}

// NodeStatus is the last known reachability of a storage node.
type NodeStatus struct {
	Index     int    `json:"index"`
	Address   string `json:"address"`
	Reachable bool   `json:"reachable"`
	LastProbe string `json:"last_probe,omitempty"`
	LastError string `json:"last_error,omitempty"`
}
