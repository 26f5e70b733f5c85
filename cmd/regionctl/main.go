package main

import (
	"os"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/config"
)

func main() {
	_ = config.LoadDotEnv(".env", ".env.local")
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
