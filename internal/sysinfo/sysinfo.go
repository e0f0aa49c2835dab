// Package sysinfo answers questions about the hosting process and machine.
package sysinfo

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProgramID derives the owning-process identity written into allow-list
// descriptors: the pid in the high half, the process start time (seconds)
// in the low half. It is stable for the life of the process.
func ProgramID() (uint64, error) {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid)) // #nosec G115
	if err != nil {
		return 0, fmt.Errorf("sysinfo: process %d: %w", pid, err)
	}
	created, err := p.CreateTime()
	if err != nil {
		return 0, fmt.Errorf("sysinfo: create time: %w", err)
	}
	return uint64(pid)<<32 | uint64(created/1000)&0xffffffff, nil
}

// CanAllocate reports whether size bytes fit in currently available memory.
// When memory statistics are unavailable it answers true.
func CanAllocate(size uint64) bool {
	if size == 0 {
		return true
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return true
	}
	return size <= vm.Available
}
