// Package discovery defines the mDNS/Bonjour lookup surface atvremote
// depends on for finding Apple TVs on the local network. It is consumed
// as an interface; this package does not itself open a socket, so it has
// no third-party mDNS dependency to carry.
package discovery

import (
	"context"
	"strings"

	"github.com/hapgo/atv-go/device"
)

// Result is one service instance found during a browse, in the shape a
// zeroconf/mDNS browser would hand back: enough to dial the device and
// enough TXT-record data to decide if it's worth pairing with.
type Result struct {
	Name      string
	Address   string
	Port      uint16
	TxtRecord map[string]string
}

// Browser is implemented by whatever mDNS client a host wires in; this
// package only needs the shape of the result, not how it was obtained.
type Browser interface {
	// Browse blocks until ctx is done, sending every matching service
	// instance it observes to results.
	Browse(ctx context.Context, serviceType string, results chan<- Result) error
}

// CompanionServiceType is the mDNS service type Apple TVs advertise
// their Companion link listener under.
const CompanionServiceType = "_companion-link._tcp"

// IsAppleTV reports whether r's TXT record looks like an Apple TV rather
// than some other Companion-link-speaking device (an iPhone or iPad also
// advertise this service type for peer-to-peer Handoff).
func IsAppleTV(r Result) bool {
	model := strings.ToLower(r.TxtRecord["model"])
	return strings.Contains(model, "appletv") || strings.Contains(model, "atv")
}

// ToDescriptor converts a browse result into the device.Descriptor shape
// pairing and session setup consume.
func ToDescriptor(r Result) device.Descriptor {
	return device.Descriptor{
		Identifier: r.TxtRecord["rpMac"],
		Name:       r.Name,
		Address:    r.Address,
		Port:       r.Port,
		Model:      r.TxtRecord["model"],
		Properties: r.TxtRecord,
	}
}
