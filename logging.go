package keelc

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the package-wide structured logger. Components log through it
// rather than fmt/log directly, the way the rest of the pack's larger
// services (moby/moby, cucaracha) standardize on a single logrus instance.
var Log = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetVerbose toggles debug-level logging across the module. This plays the
// role the teacher's package-level VerboseMode bool played in the original
// compiler driver, generalized to logrus's level mechanism.
func SetVerbose(v bool) {
	if v {
		Log.SetLevel(logrus.DebugLevel)
	} else {
		Log.SetLevel(logrus.InfoLevel)
	}
}
