package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/ext_debug_utils"
	"github.com/vkngwrapper/extensions/khr_swapchain"
	"golang.org/x/exp/slog"

	"github.com/iliadengine/iliad/internal/device"
)

// VK_ERROR_OUT_OF_POOL_MEMORY, promoted to core in 1.1.
const errorOutOfPoolMemory common.VkResult = -1000069000

// check marks err with the device error kind matching res.
func check(res common.VkResult, err error) error {
	if err == nil {
		return nil
	}

	switch res {
	case core1_0.VKErrorDeviceLost:
		return errors.Mark(err, device.ErrDeviceLost)
	case core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfHostMemory:
		return errors.Mark(err, device.ErrOutOfMemory)
	case core1_0.VKErrorFragmentedPool, errorOutOfPoolMemory:
		return errors.Mark(err, device.ErrPoolExhausted)
	}
	return err
}

// presentationResult sorts the outcome of an acquire or present call into
// the results the presentation chain recovers from and real failures.
func presentationResult(res common.VkResult, err error) (device.Result, error) {
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return device.ResultStale, nil
	case khr_swapchain.VKSuboptimal:
		return device.ResultSuboptimal, nil
	}

	if err != nil {
		return device.ResultOK, check(res, err)
	}
	return device.ResultOK, nil
}

func debugLevel(severity ext_debug_utils.MessageSeverities) slog.Level {
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		return slog.LevelError
	case severity&ext_debug_utils.SeverityWarning != 0:
		return slog.LevelWarn
	case severity&ext_debug_utils.SeverityInfo != 0:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func findMemoryType(memoryTypes []core1_0.MemoryType, typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range memoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Mark(errors.Newf("no memory type with properties %s in filter %b", properties, typeFilter), device.ErrNoMemoryType)
}

// atomRange widens [offset, offset+size) to whole non-coherent atoms, clamped
// to an allocation of allocationSize bytes. device.WholeSize is passed through.
func atomRange(offset, size, allocationSize, atom int) (int, int) {
	if atom <= 1 {
		return offset, size
	}

	start := offset - offset%atom
	if size == device.WholeSize {
		return start, size
	}

	end := offset + size
	if rem := end % atom; rem != 0 {
		end += atom - rem
	}
	if end > allocationSize {
		end = allocationSize
	}
	return start, end - start
}
