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

// Package cmd holds mthreadbench's scenario subcommands.
package cmd

import (
	"fmt"

	"github.com/google/subcommands"
)

// report prints a single PASS/FAIL line for name and turns ok into the
// matching subcommands.ExitStatus.
func report(name string, ok bool, detail string) subcommands.ExitStatus {
	if ok {
		fmt.Printf("PASS %s: %s\n", name, detail)
		return subcommands.ExitSuccess
	}
	fmt.Printf("FAIL %s: %s\n", name, detail)
	return subcommands.ExitFailure
}
