package rtc

import (
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

type mediaStats struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32

	senderReports atomic.Uint64
	lost          atomic.Uint32
}

func (s *mediaStats) observe(pkt *rtp.Packet) {
	if pkt == nil {
		return
	}
	s.packets.Add(1)
	s.bytes.Add(uint64(pkt.MarshalSize()))
	s.lastSeq.Store(uint32(pkt.SequenceNumber))
}

// observeRTCP counts the remote's sender reports and keeps the latest
// cumulative loss it reports about our stream.
func (s *mediaStats) observeRTCP(pkts []rtcp.Packet) {
	for _, p := range pkts {
		switch r := p.(type) {
		case *rtcp.SenderReport:
			s.senderReports.Add(1)
		case *rtcp.ReceiverReport:
			for _, rep := range r.Reports {
				s.lost.Store(rep.TotalLost)
			}
		}
	}
}

func (s *mediaStats) dict() *zerolog.Event {
	return zerolog.Dict().
		Uint64("rtp_packets", s.packets.Load()).
		Uint64("rtp_bytes", s.bytes.Load()).
		Uint32("last_seq", s.lastSeq.Load()).
		Uint64("rtcp_sender_reports", s.senderReports.Load()).
		Uint32("reported_lost", s.lost.Load())
}
