// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package main

import (
	"fmt"

	ct "github.com/daviddengcn/go-colortext"
	"github.com/echa/config"
	logpkg "github.com/echa/log"
)

var log = logpkg.NewLogger("MAIN")

func initLogging() {
	lvl := logpkg.LevelInfo
	if s := config.GetString("log.level"); s != "" {
		lvl = logpkg.ParseLevel(s)
	}
	if verbose {
		lvl = logpkg.LevelDebug
	}
	logpkg.SetLevel(lvl)
}

// printLogo writes the colored startup banner on interactive terminals.
func printLogo() {
	ct.ChangeColor(ct.Cyan, true, ct.None, false)
	fmt.Println("tzcore " + version)
	ct.ResetColor()
	fmt.Println("Proof-of-stake protocol core and RPC proxy")
}
