package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of AudioFrame, see proto/audio.proto.
const (
	audioFieldFrom    protowire.Number = 1
	audioFieldTo      protowire.Number = 2
	audioFieldIsGroup protowire.Number = 3
	audioFieldData    protowire.Number = 4
)

// ErrInvalidAudioFrame is returned when a frame lacks a sender or target.
var ErrInvalidAudioFrame = errors.New("audio frame requires from and to")

// AudioFrame is a voice message sent as one binary frame.
type AudioFrame struct {
	From    string
	To      string
	IsGroup bool
	Data    []byte
}

// Encode encodes the frame using the protobuf wire format.
func (f *AudioFrame) Encode() ([]byte, error) {
	if f.From == "" || f.To == "" {
		return nil, ErrInvalidAudioFrame
	}
	b := make([]byte, 0, len(f.From)+len(f.To)+len(f.Data)+16)
	b = protowire.AppendTag(b, audioFieldFrom, protowire.BytesType)
	b = protowire.AppendString(b, f.From)
	b = protowire.AppendTag(b, audioFieldTo, protowire.BytesType)
	b = protowire.AppendString(b, f.To)
	if f.IsGroup {
		b = protowire.AppendTag(b, audioFieldIsGroup, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if len(f.Data) > 0 {
		b = protowire.AppendTag(b, audioFieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Data)
	}
	return b, nil
}

// Decode decodes bytes produced by Encode. Unknown fields are skipped.
func (f *AudioFrame) Decode(data []byte) error {
	*f = AudioFrame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("failed to decode audio frame: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == audioFieldFrom && typ == protowire.BytesType:
			f.From, n = protowire.ConsumeString(data)
		case num == audioFieldTo && typ == protowire.BytesType:
			f.To, n = protowire.ConsumeString(data)
		case num == audioFieldIsGroup && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			f.IsGroup = protowire.DecodeBool(v)
		case num == audioFieldData && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(data)
			f.Data = append([]byte(nil), v...)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("failed to decode audio frame: %w", protowire.ParseError(n))
		}
		data = data[n:]
	}
	if f.From == "" || f.To == "" {
		return ErrInvalidAudioFrame
	}
	return nil
}
