package logger

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds the process-wide logger. Local environments get a readable
// console format; everything else emits JSON for log shipping.
func New() *logrus.Logger {
	log := logrus.New()

	env := os.Getenv("ENVIRONMENT")
	if env == "" || env == "local" {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}
	log.SetOutput(os.Stdout)

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}
