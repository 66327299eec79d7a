// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package collector

import (
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcResolver maps pids to process names. Only meaningful when the
// collector runs on the capture host; lookups for exited or foreign pids
// return "". Results are cached, including negative ones, so a page full
// of records from one producer costs a single /proc walk.
type ProcResolver struct {
	mu    sync.Mutex
	cache map[uint32]string
}

// NewProcResolver creates an empty resolver.
func NewProcResolver() *ProcResolver {
	return &ProcResolver{cache: make(map[uint32]string)}
}

// Name returns the process name for pid, or "".
func (r *ProcResolver) Name(pid uint32) string {
	if pid == 0 {
		return ""
	}

	r.mu.Lock()
	name, ok := r.cache[pid]
	r.mu.Unlock()
	if ok {
		return name
	}

	name = ""
	if p, err := process.NewProcess(int32(pid)); err == nil {
		if n, err := p.Name(); err == nil {
			name = n
		}
	}

	r.mu.Lock()
	r.cache[pid] = name
	r.mu.Unlock()
	return name
}
