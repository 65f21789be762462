package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-router/router/internal/model"
)

// JSONCodecName is the registry name of the JSON codec.
const JSONCodecName = "json"

// JSONCodec decodes GELF-style JSON objects.
//
//	short_message | message  -> message text
//	host | source            -> source
//	timestamp                -> unix seconds (number) or RFC 3339 string
//
// Every other key becomes a field; a leading underscore is stripped. When the
// payload has no timestamp the envelope receive time is used.
type JSONCodec struct {
	cfg Configuration
}

// NewJSON creates a JSON codec.
func NewJSON(cfg Configuration) (Codec, error) {
	return &JSONCodec{cfg: cfg}, nil
}

// Name implements Codec.
func (c *JSONCodec) Name() string { return JSONCodecName }

// Configuration implements Codec.
func (c *JSONCodec) Configuration() Configuration { return c.cfg }

// Decode implements Codec.
func (c *JSONCodec) Decode(env *model.RawEnvelope) (*model.Message, error) {
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 {
		return nil, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("json codec: %w", err)
	}
	if doc == nil {
		return nil, nil
	}

	msg := &model.Message{
		ID:        env.ID,
		Timestamp: env.ReceivedAt,
		Fields:    make(map[string]any, len(doc)),
	}

	if text, ok := firstString(doc, "short_message", model.FieldMessage); ok {
		msg.Fields[model.FieldMessage] = text
	}
	if source, ok := firstString(doc, "host", model.FieldSource); ok {
		msg.Source = source
	}
	if v, ok := doc[model.FieldTimestamp]; ok {
		ts, err := parseTimestamp(v)
		if err != nil {
			return nil, fmt.Errorf("json codec: %w", err)
		}
		msg.Timestamp = ts
	}

	for key, value := range doc {
		switch key {
		case "short_message", model.FieldMessage, "host", model.FieldSource, model.FieldTimestamp:
		case model.FieldID, "_" + model.FieldID:
			// the envelope id is authoritative
		default:
			name := strings.TrimPrefix(key, "_")
			if name == "" {
				continue
			}
			msg.Fields[name] = value
		}
	}

	return msg, nil
}

// firstString returns the first key holding a string, in key order.
func firstString(doc map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := doc[k].(string); ok {
			return s, true
		}
	}
	return "", false
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case float64:
		sec, frac := math.Modf(t)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", t)
		}
		return ts.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("invalid timestamp type %T", v)
	}
}
