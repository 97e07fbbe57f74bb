package offline

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/mongotap/mongotap/listener"
)

// packetJob is one TCP-bearing packet, reduced to what the reassembler and
// codec need. sourceKey identifies the captured source endpoint (IP+port),
// matching the per-endpoint reassembly state spec.md §4.2 requires —
// request and reply directions of the same session land in different
// workers because their source endpoints differ.
type packetJob struct {
	sourceKey string
	ipID      uint16
	payload   []byte
	source    listener.Endpoint
	dest      listener.Endpoint
	observed  time.Time
}

// decodePacket descends whichever link layer the capture uses (raw Linux
// cooked capture or Ethernet, chosen by the handle's datalink type) down
// through IPv4/IPv6 and TCP to the payload — the Go equivalent of dispatching
// on datalink() before picking an EthDecoder or LinuxSLLDecoder.
func decodePacket(pkt gopacket.Packet) (packetJob, bool) {
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return packetJob{}, false
	}
	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok || len(tcp.Payload) == 0 {
		return packetJob{}, false
	}

	var srcIP, dstIP string
	var ipID uint16

	if ip4Layer := pkt.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		ip4 := ip4Layer.(*layers.IPv4)
		srcIP, dstIP = ip4.SrcIP.String(), ip4.DstIP.String()
		ipID = ip4.Id
	} else if ip6Layer := pkt.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip6 := ip6Layer.(*layers.IPv6)
		srcIP, dstIP = ip6.SrcIP.String(), ip6.DstIP.String()
		// IPv6 has no base-header identifier; fragment extension headers carry
		// one but ordinary segmentation here is TCP-level, so treat every
		// packet as already in order.
		ipID = 0
	} else {
		return packetJob{}, false
	}

	src := listener.Endpoint{IP: srcIP, Port: uint16(tcp.SrcPort)}
	dst := listener.Endpoint{IP: dstIP, Port: uint16(tcp.DstPort)}

	ts := pkt.Metadata().Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return packetJob{
		sourceKey: src.String(),
		ipID:      ipID,
		payload:   append([]byte(nil), tcp.Payload...),
		source:    src,
		dest:      dst,
		observed:  ts,
	}, true
}
