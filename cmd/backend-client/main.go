package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := RootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("backend-client failed")
		os.Exit(1)
	}
}
