package adapter

import (
	"strings"

	"github.com/amux/gateway/internal/ir"
)

// liftSystemMessages pulls any leading/interspersed "system" role messages
// out of msgs and returns the remaining messages plus the joined system
// text.
func liftSystemMessages(msgs []ir.Message) (rest []ir.Message, system string) {
	var systemParts []string
	for _, m := range msgs {
		if m.Role == ir.RoleSystem {
			systemParts = append(systemParts, m.Text)
			continue
		}
		rest = append(rest, m)
	}
	return rest, strings.Join(systemParts, "\n")
}

// dataURLPrefix is the scheme prefix for inline base64 image content.
const dataURLPrefix = "data:"

// parseImageURL normalizes an image URL string into an ImageSource:
// "data:<media-type>;base64,<payload>" parses into a base64 source,
// anything else into a URL source.
func parseImageURL(raw string) ir.ImageSource {
	if strings.HasPrefix(raw, dataURLPrefix) {
		rest := strings.TrimPrefix(raw, dataURLPrefix)
		semi := strings.Index(rest, ";base64,")
		if semi >= 0 {
			return ir.ImageSource{
				Kind:      ir.ImageSourceBase64,
				MediaType: rest[:semi],
				Data:      rest[semi+len(";base64,"):],
			}
		}
	}
	return ir.ImageSource{Kind: ir.ImageSourceURL, URL: raw}
}

// imageURLString renders an ImageSource back to a data: or plain URL.
func imageURLString(src ir.ImageSource) string {
	if src.Kind == ir.ImageSourceBase64 {
		return dataURLPrefix + src.MediaType + ";base64," + src.Data
	}
	return src.URL
}

// collapseFinishReason maps an unrecognized upstream finish reason to the
// canonical "stop" fallback.
func collapseFinishReason(known bool, reason ir.FinishReason) ir.FinishReason {
	if known {
		return reason
	}
	return ir.FinishStop
}

// textFromParts concatenates the text-bearing parts of a message, used when
// a dialect that cannot express multipart content needs a flattened string.
func textFromParts(parts []Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Text != "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Part is a local alias kept for readability in helper signatures.
type Part = ir.Part

// serializeUnrepresentable turns an IR part this dialect cannot express
// (e.g. Qwen audio/video crossing into a dialect without that modality)
// into a text placeholder part.
func serializeUnrepresentable(p ir.Part) ir.Part {
	return ir.Part{Type: ir.PartText, Text: "[unsupported " + string(p.Type) + " content omitted]"}
}
