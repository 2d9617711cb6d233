package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the logger shared by all packages. Commands adjust its level and
// output at startup.
var Log = logrus.New()

func init() {
	Log.SetOutput(os.Stderr)
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel parses a level name and applies it to Log.
func SetLevel(name string) error {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	Log.SetLevel(lvl)
	return nil
}
