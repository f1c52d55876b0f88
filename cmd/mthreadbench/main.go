// Copyright 2024 The Mthread Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command mthreadbench runs the scenario suite this module was validated
// against during development: one subcommand per scenario, each printing a
// single PASS/FAIL line and exiting non-zero on failure, so it can double as
// a smoke test driven from a shell script in place of `go test` on a host
// that only has this compiled binary.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	mcmd "mthread.dev/mthread/cmd/mthreadbench/cmd"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&mcmd.Mutex{}, "scenario")
	subcommands.Register(&mcmd.CondVar{}, "scenario")
	subcommands.Register(&mcmd.Join{}, "scenario")
	subcommands.Register(&mcmd.Abandon{}, "scenario")
	subcommands.Register(&mcmd.Recursive{}, "scenario")
	subcommands.Register(&mcmd.CondTimeout{}, "scenario")
	subcommands.Register(&mcmd.StopWorld{}, "scenario")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
