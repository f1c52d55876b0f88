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

// Package gcsim is a toy stop-the-world driver: it exercises pkg/stw's
// protocol without a real tracing collector behind it, recording which
// threads it stopped instead of scanning their stacks. It exists for this
// module's own tests and for cmd/mthreadbench's stopworld scenario.
package gcsim

import (
	"context"
	"sync"
	"time"

	"mthread.dev/mthread/pkg/stw"
	"mthread.dev/mthread/pkg/thread"
)

// Snapshot records the outcome of one Collector.Run pass.
type Snapshot struct {
	Stopped   []uint64
	Duration  time.Duration
	ClearedFL []uint64
}

// Collector is a minimal stop-the-world client.
type Collector struct {
	ClearFreelists bool
}

// Run performs one stop-the-world cycle, driven by gc, and returns which
// threads were observed stopped.
func (c *Collector) Run(ctx context.Context, gc *thread.Thread) (*Snapshot, error) {
	snap := &Snapshot{}
	var mu sync.Mutex

	start := time.Now()
	err := stw.StopWorld(ctx, gc, func(t *thread.Thread) {
		mu.Lock()
		snap.Stopped = append(snap.Stopped, t.ID())
		mu.Unlock()
	}, stw.Options{ClearFreelists: c.ClearFreelists})
	snap.Duration = time.Since(start)
	if err != nil {
		return nil, err
	}

	if c.ClearFreelists {
		snap.ClearedFL = append(snap.ClearedFL, snap.Stopped...)
	}
	return snap, nil
}
