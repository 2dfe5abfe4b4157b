package tsdemux

import (
	"github.com/zsiec/ccx"
)

// CEA-708 services 1-6 are reported on channels 7-12, after the four
// CEA-608 channels and the two XDS fields.
const dtvccChannelBase = 6

// captionDecoder turns caption data carried in SEI messages into text per
// caption channel: CEA-608 byte pairs and CEA-708 DTVCC packets.
type captionDecoder struct {
	decoders map[int]*ccx.CEA608Decoder
	services map[int]*ccx.CEA708Service
	// last control pair per field, for dropping the mandated repeat
	lastCtrl    [2][2]byte
	lastWasCtrl [2]bool
	dtvcc       []byte
}

func newCaptionDecoder() *captionDecoder {
	return &captionDecoder{
		decoders: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
		services: newServices(),
	}
}

func newServices() map[int]*ccx.CEA708Service {
	services := make(map[int]*ccx.CEA708Service, 6)
	for i := 1; i <= 6; i++ {
		services[i] = ccx.NewCEA708Service()
	}
	return services
}

// decode feeds one SEI NAL unit and returns a frame for every caption text
// update.
func (c *captionDecoder) decode(sei []byte) []*ccx.CaptionFrame {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return nil
	}

	var out []*ccx.CaptionFrame
	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		f := pair.Field & 1
		if cc1 >= 0x10 && cc1 <= 0x1F {
			cp := [2]byte{cc1, cc2}
			if c.lastWasCtrl[f] && c.lastCtrl[f] == cp {
				c.lastWasCtrl[f] = false
				continue
			}
			c.lastCtrl[f] = cp
			c.lastWasCtrl[f] = true
		} else {
			c.lastWasCtrl[f] = false
		}

		dec := c.decoders[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			frame := &ccx.CaptionFrame{Text: text, Channel: pair.Channel}
			frame.Regions = dec.StyledRegions()
			out = append(out, frame)
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			out = append(out, c.drainDTVCC()...)
			c.dtvcc = c.dtvcc[:0]
		}
		c.dtvcc = append(c.dtvcc, t.Data[0], t.Data[1])
	}
	return out
}

// drainDTVCC decodes the buffered DTVCC packet once it is complete.
func (c *captionDecoder) drainDTVCC() []*ccx.CaptionFrame {
	if len(c.dtvcc) < 1 {
		return nil
	}
	size := ccx.DTVCCPacketSize(c.dtvcc[0])
	if len(c.dtvcc) < size {
		return nil
	}

	var out []*ccx.CaptionFrame
	for _, block := range ccx.ParseDTVCCPacket(c.dtvcc[:size]) {
		svc := c.services[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			frame := &ccx.CaptionFrame{Text: text, Channel: block.ServiceNum + dtvccChannelBase}
			frame.Regions = svc.StyledRegions()
			out = append(out, frame)
		}
	}
	c.dtvcc = c.dtvcc[size:]
	return out
}

func (c *captionDecoder) reset() {
	for ch := range c.decoders {
		c.decoders[ch] = ccx.NewCEA608Decoder()
	}
	c.services = newServices()
	c.lastWasCtrl = [2]bool{}
	c.dtvcc = c.dtvcc[:0]
}
