package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/scigolib/h5trim/internal/utils"
)

// LinkType is the kind of target a link points at.
type LinkType uint8

// Link types. Values from 65 up are user-defined.
const (
	LinkTypeHard     LinkType = 0
	LinkTypeSoft     LinkType = 1
	LinkTypeExternal LinkType = 64
)

func (lt LinkType) String() string {
	switch lt {
	case LinkTypeHard:
		return "hard"
	case LinkTypeSoft:
		return "soft"
	case LinkTypeExternal:
		return "external"
	}
	return fmt.Sprintf("user-defined(%d)", uint8(lt))
}

// Link message flag bits.
const (
	linkFlagLengthMask    = 0x03
	linkFlagCreationOrder = 0x04
	linkFlagType          = 0x08
	linkFlagCharSet       = 0x10
)

// LinkMessage is a decoded link message (type 0x0006), stored directly in
// compact groups or as a fractal heap object in dense groups.
type LinkMessage struct {
	Type          LinkType
	CreationOrder uint64
	CharSet       uint8
	Name          string

	// Address is the target of a hard link.
	Address uint64

	// Target is the path of a soft link or the object path of an external link.
	Target string

	// File is the file name of an external link.
	File string

	// Raw holds the link value of user-defined links.
	Raw []byte
}

// ParseLinkMessage decodes a version 1 link message.
func ParseLinkMessage(data []byte, sb *Superblock) (*LinkMessage, error) {
	if len(data) < 2 {
		return nil, errors.New("link message too short")
	}
	if data[0] != 1 {
		return nil, fmt.Errorf("unsupported link message version %d", data[0])
	}
	flags := data[1]
	lm := &LinkMessage{Address: utils.UndefinedAddress}
	p := 2
	need := func(n int, what string) error {
		if len(data) < p+n {
			return utils.Truncated("link "+what, p+n, len(data))
		}
		return nil
	}

	if flags&linkFlagType != 0 {
		if err := need(1, "type"); err != nil {
			return nil, err
		}
		lm.Type = LinkType(data[p])
		p++
	}
	if flags&linkFlagCreationOrder != 0 {
		if err := need(8, "creation order"); err != nil {
			return nil, err
		}
		lm.CreationOrder = binary.LittleEndian.Uint64(data[p:])
		p += 8
	}
	if flags&linkFlagCharSet != 0 {
		if err := need(1, "charset"); err != nil {
			return nil, err
		}
		lm.CharSet = data[p]
		p++
	}

	width := 1 << (flags & linkFlagLengthMask)
	if err := need(width, "name length"); err != nil {
		return nil, err
	}
	nameLen := utils.ReadUint(data[p:], width)
	p += width
	if nameLen == 0 || nameLen > uint64(len(data)-p) {
		return nil, fmt.Errorf("invalid link name length %d", nameLen)
	}
	lm.Name = string(data[p : p+int(nameLen)])
	p += int(nameLen)

	switch lm.Type {
	case LinkTypeHard:
		o := int(sb.OffsetSize)
		if err := need(o, "address"); err != nil {
			return nil, err
		}
		lm.Address = utils.ReadAddress(data[p:], o)
		return lm, nil
	}

	if err := need(2, "value length"); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(data[p:]))
	p += 2
	if err := need(n, "value"); err != nil {
		return nil, err
	}
	value := data[p : p+n]

	switch lm.Type {
	case LinkTypeSoft:
		lm.Target = string(value)
	case LinkTypeExternal:
		file, path, err := ParseExternalLinkValue(value)
		if err != nil {
			return nil, err
		}
		lm.File, lm.Target = file, path
	default:
		lm.Raw = value
	}
	return lm, nil
}

// ParseExternalLinkValue splits an external link value into its file name
// and object path. The value starts with a version and flags byte.
func ParseExternalLinkValue(value []byte) (file, path string, err error) {
	if len(value) < 1 {
		return "", "", errors.New("empty external link value")
	}
	parts := strings.SplitN(string(value[1:]), "\x00", 3)
	if len(parts) < 2 {
		return "", "", errors.New("malformed external link value")
	}
	return parts[0], parts[1], nil
}
