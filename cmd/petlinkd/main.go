package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/daemon"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName}),
	)

	app.Run()
}
