package domain

// Capability names a category of generation function served by interchangeable providers.
type Capability string

const (
	CapabilityExtraction    Capability = "extraction"
	CapabilityTranscription Capability = "transcription"
	CapabilityText          Capability = "text"
	CapabilitySpeech        Capability = "speech"
	CapabilityImage         Capability = "image"
	CapabilityMusic         Capability = "music"
	CapabilityVideo         Capability = "video"
)

// Capabilities lists every capability in pipeline order.
func Capabilities() []Capability {
	return []Capability{
		CapabilityExtraction,
		CapabilityTranscription,
		CapabilityText,
		CapabilitySpeech,
		CapabilityImage,
		CapabilityMusic,
		CapabilityVideo,
	}
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, known := range Capabilities() {
		if c == known {
			return true
		}
	}
	return false
}
