package connection

import (
	"github.com/devrelay/devrelay-go/pkg/wire"
)

// encodePing builds the wire frame for a health probe.
func encodePing(id string) ([]byte, error) {
	return wire.Encode(wire.NewPing(id))
}
