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

// Package mconfig holds this runtime's tunables: a typed struct with sane
// defaults, optionally overlaid from a TOML file, the way runsc/config
// layers flag defaults under an on-disk config.
package mconfig

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is this runtime's tunable parameter set. Default and Load only
// produce a Config: none of the packages named below reads one, and each
// uses its own built-in value instead.
type Config struct {
	// StopTheWorldTimeout is the tunable for how long pkg/stw.StopWorld may
	// wait for every other thread's heap_mutex (0 meaning no limit).
	// StopWorld itself applies no timeout and waits as long as it takes.
	StopTheWorldTimeout Duration `toml:"stop_the_world_timeout"`

	// JoinPollInterval is the tunable for pkg/thread's poll granularity in
	// Join calls made by a goroutine that never Adopted itself. Join polls
	// at a fixed 2ms, the same as this field's default.
	JoinPollInterval Duration `toml:"join_poll_interval"`

	// CritSecRetryInterval is the tunable for pkg/critsec's contended
	// file-lock retry pace. critsec.New uses a fixed 5ms, the same as this
	// field's default.
	CritSecRetryInterval Duration `toml:"critsec_retry_interval"`

	// SelfPipeBufferSize is the tunable for the read buffer pkg/ioready
	// drains the self-pipe's wakeup byte(s) into. ioready uses a fixed
	// 64-byte buffer, the same as this field's default.
	SelfPipeBufferSize int `toml:"self_pipe_buffer_size"`
}

// Duration wraps time.Duration so it can be decoded from a TOML string like
// "250ms" instead of a raw integer count of nanoseconds.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler, which
// github.com/BurntSushi/toml uses for scalar string values.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns this runtime's built-in tunables.
func Default() Config {
	return Config{
		StopTheWorldTimeout:  Duration{5 * time.Second},
		JoinPollInterval:     Duration{2 * time.Millisecond},
		CritSecRetryInterval: Duration{5 * time.Millisecond},
		SelfPipeBufferSize:   64,
	}
}

// Load returns Default, overlaid with any fields set in the TOML file at
// path. A missing file is not an error — callers that only want the
// built-in defaults can pass a path that does not exist.
func Load(path string) (Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, err
	}
	return cfg, nil
}
