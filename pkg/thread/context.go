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

package thread

import "context"

type threadCtxKey struct{}

// NewContext returns a copy of ctx carrying t as "the current thread",
// mirroring gVisor's TaskFromContext/context.WithValue convention: Go has no
// implicit thread-local storage, so "current thread" is whatever the
// running goroutine's call chain was handed, not an ambient global.
func NewContext(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadCtxKey{}, t)
}

// FromContext returns the thread stored in ctx by NewContext, or nil if
// none was stored (foreign code running outside any Launch'd thunk has no
// current thread).
func FromContext(ctx context.Context) *Thread {
	t, _ := ctx.Value(threadCtxKey{}).(*Thread)
	return t
}
