package probing

import (
	"bytes"
	"fmt"
	"math"
	"mpsdn/common"
	"strconv"
	"strings"
	"time"
)

// Ethertype carried by latency probe frames. Every switch gets a rule punting
// it back to the controller.
const Ethertype uint16 = 0x07C7

// Probe is the payload of a latency probe: emitted by Sender out of the port
// facing Receiver and echoed back to the controller by Receiver.
type Probe struct {
	Sender   uint64
	Receiver uint64
	SentAt   time.Time
}

// Encode renders "sender;receiver;unix-seconds".
func (p Probe) Encode() []byte {
	sent := float64(p.SentAt.Unix()) + float64(p.SentAt.Nanosecond())/float64(time.Second)
	return []byte(fmt.Sprintf("%d;%d;%s", p.Sender, p.Receiver, strconv.FormatFloat(sent, 'f', 6, 64)))
}

// Parse decodes a probe payload.
func Parse(raw []byte) (Probe, error) {
	text := strings.TrimSpace(string(bytes.TrimRight(raw, "\x00")))
	fields := strings.Split(text, ";")
	if len(fields) != 3 {
		return Probe{}, fmt.Errorf("%w: expected 3 fields, got %d in %q", common.ErrMalformedProbe, len(fields), text)
	}
	sender, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Probe{}, fmt.Errorf("%w: sender %q: %v", common.ErrMalformedProbe, fields[0], err)
	}
	receiver, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Probe{}, fmt.Errorf("%w: receiver %q: %v", common.ErrMalformedProbe, fields[1], err)
	}
	sent, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || math.IsNaN(sent) || math.IsInf(sent, 0) {
		return Probe{}, fmt.Errorf("%w: timestamp %q", common.ErrMalformedProbe, fields[2])
	}
	sec, frac := math.Modf(sent)
	return Probe{
		Sender:   sender,
		Receiver: receiver,
		SentAt:   time.Unix(int64(sec), int64(frac*float64(time.Second))),
	}, nil
}
