package codec

import (
	"strings"

	"github.com/telhawk-systems/telhawk-router/router/internal/model"
)

// RawCodecName is the registry name of the raw codec.
const RawCodecName = "raw"

// RawCodec uses the payload text as the message, with the envelope receive
// time as timestamp. Trailing line breaks are dropped unless keep_newlines is set.
type RawCodec struct {
	cfg          Configuration
	keepNewlines bool
}

// NewRaw creates a raw codec.
func NewRaw(cfg Configuration) (Codec, error) {
	return &RawCodec{cfg: cfg, keepNewlines: cfg.Bool("keep_newlines", false)}, nil
}

// Name implements Codec.
func (c *RawCodec) Name() string { return RawCodecName }

// Configuration implements Codec.
func (c *RawCodec) Configuration() Configuration { return c.cfg }

// Decode implements Codec.
func (c *RawCodec) Decode(env *model.RawEnvelope) (*model.Message, error) {
	text := string(env.Payload)
	if !c.keepNewlines {
		text = strings.TrimRight(text, "\r\n")
	}
	return model.NewMessage(env.ID, text, "", env.ReceivedAt), nil
}
