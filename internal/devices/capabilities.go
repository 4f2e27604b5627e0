package devices

import (
	"strconv"

	"github.com/parleylabs/parley-core/internal/config"
)

// AudioCapabilities derives the capture and playback capabilities the
// local node advertises from its audio configuration, so peers can
// match devices by audio format rather than name alone.
func AudioCapabilities(cfg config.Config) []config.NodeCapability {
	var caps []config.NodeCapability
	if cfg.VoiceChat.Enabled {
		caps = append(caps, config.NodeCapability{
			Name: "audio.capture",
			Kind: "capture",
			Attributes: map[string]string{
				"sample_rate": strconv.Itoa(cfg.VoiceChat.SampleRate),
				"channels":    strconv.Itoa(cfg.VoiceChat.Channels),
			},
		})
	}
	if cfg.Speech.Enabled {
		caps = append(caps, config.NodeCapability{
			Name: "audio.playback",
			Kind: "playback",
			Attributes: map[string]string{
				"sample_rate": strconv.Itoa(cfg.Speech.SampleRate),
				"channels":    strconv.Itoa(cfg.Speech.Channels),
			},
		})
	}
	return caps
}
