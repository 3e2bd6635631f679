package core

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5trim/internal/utils"
)

// DataspaceType is the kind of dataspace.
type DataspaceType uint8

// Dataspace kinds.
const (
	DataspaceScalar DataspaceType = 0
	DataspaceSimple DataspaceType = 1
	DataspaceNull   DataspaceType = 2
)

// UnlimitedDim marks an unlimited maximum dimension.
const UnlimitedDim = ^uint64(0)

// DataspaceMessage is a decoded dataspace message (type 0x0001).
type DataspaceMessage struct {
	Version    uint8
	Type       DataspaceType
	Dimensions []uint64
	MaxDims    []uint64
}

// ParseDataspaceMessage decodes versions 1 and 2.
//
// Version 1: version, rank, flags, reserved (5 bytes), dims, optional max
// dims (flag 0x01), optional permutation (flag 0x02). Version 2: version,
// rank, flags, type, dims, optional max dims.
func ParseDataspaceMessage(data []byte, sb *Superblock) (*DataspaceMessage, error) {
	if len(data) < 4 {
		return nil, errors.New("dataspace message too short")
	}
	msg := &DataspaceMessage{Version: data[0]}
	rank := int(data[1])
	flags := data[2]

	var p int
	switch msg.Version {
	case 1:
		p = 8
		msg.Type = DataspaceSimple
		if rank == 0 {
			msg.Type = DataspaceScalar
		}
	case 2:
		p = 4
		msg.Type = DataspaceType(data[3])
		if msg.Type > DataspaceNull {
			return nil, fmt.Errorf("unknown dataspace type %d", msg.Type)
		}
	default:
		return nil, fmt.Errorf("unsupported dataspace version: %d", msg.Version)
	}

	l := int(sb.LengthSize)
	need := p + rank*l
	if flags&0x01 != 0 {
		need += rank * l
	}
	if len(data) < need {
		return nil, utils.Truncated("dataspace message", need, len(data))
	}

	msg.Dimensions = make([]uint64, rank)
	for i := range msg.Dimensions {
		msg.Dimensions[i] = utils.ReadUint(data[p:], l)
		p += l
	}
	if flags&0x01 != 0 {
		msg.MaxDims = make([]uint64, rank)
		for i := range msg.MaxDims {
			msg.MaxDims[i] = utils.ReadAddress(data[p:], l)
			p += l
		}
	}
	return msg, nil
}

// ElementCount returns the number of elements the dataspace selects.
func (ds *DataspaceMessage) ElementCount() (uint64, error) {
	if ds.Type == DataspaceNull {
		return 0, nil
	}
	return utils.ElementCount(ds.Dimensions)
}

// EncodeDataspaceMessage encodes a version 1 dataspace. A nil dims slice is
// a scalar. maxDims may be nil; use UnlimitedDim for extendible dimensions.
func EncodeDataspaceMessage(dims, maxDims []uint64) ([]byte, error) {
	if len(dims) > 32 {
		return nil, fmt.Errorf("rank %d exceeds the HDF5 limit of 32", len(dims))
	}
	if maxDims != nil && len(maxDims) != len(dims) {
		return nil, fmt.Errorf("max dims rank %d does not match rank %d", len(maxDims), len(dims))
	}

	size := 8 + 8*len(dims)
	if maxDims != nil {
		size += 8 * len(dims)
	}
	buf := make([]byte, size)
	buf[0] = 1
	buf[1] = byte(len(dims))
	if maxDims != nil {
		buf[2] = 0x01
	}

	p := 8
	for _, d := range dims {
		utils.PutUint(buf[p:], d, 8)
		p += 8
	}
	for i, m := range maxDims {
		if m != UnlimitedDim && m < dims[i] {
			return nil, fmt.Errorf("max dim %d (%d) smaller than dim (%d)", i, m, dims[i])
		}
		utils.PutUint(buf[p:], m, 8)
		p += 8
	}
	return buf, nil
}
