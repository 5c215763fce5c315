package main

import (
	"os"

	"github.com/BearBump/ParcelSync/internal/app"
)

var version = "0.1.0"

func main() {
	root := newRootCmd(app.DefaultFactories())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
