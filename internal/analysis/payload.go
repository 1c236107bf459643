package analysis

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider identifies which adapter produced a payload.
type Provider string

const (
	ProviderOpenAIVision Provider = "openai_vision"
	ProviderHume         Provider = "hume"
)

// Payload is the result of one successful analysis. Exactly one variant is
// set, selected by Provider. On the wire it is a flat object whose
// "provider" field names the variant.
type Payload struct {
	Provider Provider
	Image    *ImageAnalysis
	Voice    *VoiceAnalysis
}

type ImageAnalysis struct {
	Description string       `json:"description"`
	Timestamp   time.Time    `json:"timestamp"`
	Size        SizeMetadata `json:"sizeMetadata"`
}

type SizeMetadata struct {
	OriginalBytes  int    `json:"originalBytes"`
	SentBytes      int    `json:"sentBytes"`
	OriginalWidth  int    `json:"originalWidth"`
	OriginalHeight int    `json:"originalHeight"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	ContentType    string `json:"contentType"`
	Resized        bool   `json:"resized"`
}

type VoiceAnalysis struct {
	JobID       string             `json:"jobId"`
	ProcessedAt time.Time          `json:"processedAt"`
	Emotions    map[string]float64 `json:"emotions"`
	TopEmotions []Score            `json:"topEmotions"`
	VocalTraits map[string]float64 `json:"vocalTraits,omitempty"`
	Segments    int                `json:"segments"`
	Raw         json.RawMessage    `json:"raw,omitempty"`
}

type Score struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// ImagePayload wraps an image result.
func ImagePayload(p Provider, a ImageAnalysis) Payload {
	return Payload{Provider: p, Image: &a}
}

// VoicePayload wraps a voice result.
func VoicePayload(p Provider, a VoiceAnalysis) Payload {
	return Payload{Provider: p, Voice: &a}
}

func (p Payload) variant() (any, error) {
	switch p.Provider {
	case ProviderOpenAIVision:
		if p.Image == nil {
			return nil, fmt.Errorf("payload for %s has no image result", p.Provider)
		}
		return p.Image, nil
	case ProviderHume:
		if p.Voice == nil {
			return nil, fmt.Errorf("payload for %s has no voice result", p.Provider)
		}
		return p.Voice, nil
	default:
		return nil, fmt.Errorf("unknown payload provider %q", p.Provider)
	}
}

func (p Payload) MarshalJSON() ([]byte, error) {
	v, err := p.variant()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(p.Provider)
	if err != nil {
		return nil, err
	}
	fields["provider"] = tag
	return json.Marshal(fields)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var head struct {
		Provider Provider `json:"provider"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Provider {
	case ProviderOpenAIVision:
		var a ImageAnalysis
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		*p = ImagePayload(head.Provider, a)
	case ProviderHume:
		var a VoiceAnalysis
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		*p = VoicePayload(head.Provider, a)
	default:
		return fmt.Errorf("unknown payload provider %q", head.Provider)
	}
	return nil
}
