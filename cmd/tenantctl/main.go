package main

import (
	"os"

	"tenant-platform/cmd/tenantctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
