package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/scigolib/h5trim/internal/utils"
	"github.com/scigolib/h5trim/internal/writer"
)

// FilterID identifies a filter in a pipeline message.
type FilterID uint16

// Registered filter identifiers.
const (
	FilterDeflate     FilterID = 1
	FilterShuffle     FilterID = 2
	FilterFletcher    FilterID = 3
	FilterSZIP        FilterID = 4
	FilterNBit        FilterID = 5
	FilterScaleOffset FilterID = 6
)

// FilterOptional marks a filter whose failure on write is tolerated.
const FilterOptional = 0x0001

func (id FilterID) String() string {
	switch id {
	case FilterDeflate:
		return "deflate"
	case FilterShuffle:
		return "shuffle"
	case FilterFletcher:
		return "fletcher32"
	case FilterSZIP:
		return "szip"
	case FilterNBit:
		return "nbit"
	case FilterScaleOffset:
		return "scaleoffset"
	}
	return fmt.Sprintf("filter-%d", uint16(id))
}

// Filter is one entry of a filter pipeline.
type Filter struct {
	ID         FilterID
	Flags      uint16
	Name       string
	ClientData []uint32
}

// FilterPipelineMessage is a decoded filter pipeline message (type 0x000B).
type FilterPipelineMessage struct {
	Version uint8
	Filters []Filter
}

// ParseFilterPipelineMessage decodes pipeline versions 1 and 2. Version 2
// drops the reserved bytes and the padding, and omits the name length for
// the predefined filters below 256.
func ParseFilterPipelineMessage(data []byte) (*FilterPipelineMessage, error) {
	if len(data) < 2 {
		return nil, errors.New("filter pipeline message too short")
	}
	msg := &FilterPipelineMessage{Version: data[0]}
	n := int(data[1])
	p := 2
	switch msg.Version {
	case 1:
		p += 6
	case 2:
	default:
		return nil, fmt.Errorf("unsupported filter pipeline version %d", msg.Version)
	}

	for i := 0; i < n; i++ {
		if len(data) < p+2 {
			return nil, utils.Truncated("filter", p+2, len(data))
		}
		f := Filter{ID: FilterID(binary.LittleEndian.Uint16(data[p:]))}
		p += 2

		nameLen := 0
		if msg.Version == 1 || f.ID >= 256 {
			if len(data) < p+2 {
				return nil, utils.Truncated("filter name length", p+2, len(data))
			}
			nameLen = int(binary.LittleEndian.Uint16(data[p:]))
			p += 2
		}
		if len(data) < p+4 {
			return nil, utils.Truncated("filter flags", p+4, len(data))
		}
		f.Flags = binary.LittleEndian.Uint16(data[p:])
		nValues := int(binary.LittleEndian.Uint16(data[p+2:]))
		p += 4

		if nameLen > 0 {
			if len(data) < p+nameLen {
				return nil, utils.Truncated("filter name", p+nameLen, len(data))
			}
			f.Name = cString(data[p : p+nameLen])
			if msg.Version == 1 {
				nameLen = (nameLen + 7) &^ 7
			}
			p += nameLen
		}

		if len(data) < p+4*nValues {
			return nil, utils.Truncated("filter client data", p+4*nValues, len(data))
		}
		f.ClientData = make([]uint32, nValues)
		for j := range f.ClientData {
			f.ClientData[j] = binary.LittleEndian.Uint32(data[p:])
			p += 4
		}
		if msg.Version == 1 && nValues%2 == 1 {
			p += 4
		}
		msg.Filters = append(msg.Filters, f)
	}
	return msg, nil
}

// Decode reverses the pipeline for one stored chunk. Bit i of mask set
// means filter i was skipped when the chunk was written.
func (fp *FilterPipelineMessage) Decode(data []byte, mask uint32) ([]byte, error) {
	if fp == nil {
		return data, nil
	}
	result := data
	for i := len(fp.Filters) - 1; i >= 0; i-- {
		if i < 32 && mask&(1<<uint(i)) != 0 {
			continue
		}
		f := fp.Filters[i]
		impl, err := f.decoder()
		if err != nil {
			return nil, err
		}
		if result, err = impl.Remove(result); err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.ID, err)
		}
	}
	return result, nil
}

// Supported reports whether every filter can be decoded.
func (fp *FilterPipelineMessage) Supported() bool {
	if fp == nil {
		return true
	}
	for _, f := range fp.Filters {
		if _, err := f.decoder(); err != nil {
			return false
		}
	}
	return true
}

func (f Filter) decoder() (writer.Filter, error) {
	switch f.ID {
	case FilterDeflate:
		return writer.NewDeflateFilter(0), nil
	case FilterShuffle:
		if len(f.ClientData) == 0 {
			return nil, errors.New("shuffle filter without element size")
		}
		return writer.NewShuffleFilter(f.ClientData[0]), nil
	case FilterFletcher:
		return writer.NewFletcher32Filter(), nil
	}
	return nil, fmt.Errorf("%w: filter %s", ErrUnsupported, f.ID)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
