package main

import (
	"github.com/recoveryworks/update-engine/cmd"
	"github.com/recoveryworks/update-engine/pkg/logger"
)

var version = "1.0.0"

func main() {
	if err := cmd.Execute(version); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}
