package coordinator

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
)

// memoryPerSlot is the memory budget assumed for one render process
const memoryPerSlot = 1 << 30

// ResolveSlots turns the render.slots setting into a slot count.
// "auto" allows one render per GiB of available memory, capped by CPU count.
func ResolveSlots(setting string) (int, error) {
	if setting == "" || setting == configtypes.SlotsAuto {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return 0, fmt.Errorf("failed to read system memory: %w", err)
		}
		return autoSlots(vm.Available, runtime.NumCPU()), nil
	}

	n, err := strconv.Atoi(setting)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("render slots must be %q or a positive integer, got %q", configtypes.SlotsAuto, setting)
	}
	return n, nil
}

func autoSlots(availableBytes uint64, cpus int) int {
	slots := int(availableBytes / memoryPerSlot)
	if slots > cpus {
		slots = cpus
	}
	if slots < 1 {
		slots = 1
	}
	return slots
}
