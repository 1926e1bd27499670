package main

import (
	"os"

	coachcmder "github.com/papercomputeco/coach/cmd/coach"
)

func main() {
	cmd := coachcmder.NewCoachCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
