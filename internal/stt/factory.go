package stt

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/snditnz/verbumcare-demo-sub003/internal/config"
)

// NewEngine builds the configured transcription engine. Only the whisper
// sidecar ships today; the switch stays so a second vendor can be added
// without touching orchestration.
func NewEngine(cfg *config.Config, log *logrus.Logger) (Engine, error) {
	name := strings.ToLower(os.Getenv("STT_ENGINE"))
	if name == "" {
		name = "whisper"
	}
	switch name {
	case "whisper":
		return NewWhisperEngine(cfg.WhisperURL, cfg.WhisperTimeout, log), nil
	default:
		return nil, fmt.Errorf("unsupported STT engine: %s", name)
	}
}
