package vulkan

import (
	"runtime"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/gpu"
)

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	DeviceExtensionNames []string
	SamplerAnisotropy    bool
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
}

func (d *Device) createLogicalDevice() error {
	if err := d.selectPhysicalDevice(); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{d.GraphicsQueueIndex}
	if d.PresentQueueIndex != d.GraphicsQueueIndex {
		indices = append(indices, d.PresentQueueIndex)
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: d.Features.SamplerAnisotropy,
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if d.hasDeviceExtension("VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var device vk.Device
	if res := vk.CreateDevice(d.PhysicalDevice, &deviceCreateInfo, d.Allocator, &device); res != vk.Success {
		return resultError(res, "vkCreateDevice")
	}
	d.LogicalDevice = device
	core.LogInfo("Logical device created.")

	var graphics, present vk.Queue
	vk.GetDeviceQueue(d.LogicalDevice, d.GraphicsQueueIndex, 0, &graphics)
	vk.GetDeviceQueue(d.LogicalDevice, d.PresentQueueIndex, 0, &present)
	d.GraphicsQueue = graphics
	d.PresentQueue = present
	d.locks.SetQueueFamily(d.GraphicsQueueIndex)
	d.locks.SetQueueFamily(d.PresentQueueIndex)
	core.LogInfo("Queues obtained.")

	// Buffers are reset individually by the engine.
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.GraphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.LogicalDevice, &poolCreateInfo, d.Allocator, &pool); res != vk.Success {
		return resultError(res, "vkCreateCommandPool")
	}
	d.GraphicsCommandPool = pool
	core.LogInfo("Graphics command pool created.")

	if !d.detectDepthFormat() {
		return errors.New("no supported depth format found")
	}
	return nil
}

func (d *Device) destroyLogicalDevice() {
	core.LogInfo("Destroying command pools...")
	if d.GraphicsCommandPool != nil {
		vk.DestroyCommandPool(d.LogicalDevice, d.GraphicsCommandPool, d.Allocator)
		d.GraphicsCommandPool = nil
	}

	d.GraphicsQueue = nil
	d.PresentQueue = nil

	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(d.LogicalDevice, d.Allocator)
	d.LogicalDevice = nil

	// Physical devices are not destroyed.
	d.PhysicalDevice = nil
}

func (d *Device) hasDeviceExtension(name string) bool {
	for _, ext := range deviceExtensions(d.PhysicalDevice) {
		if ext == name {
			return true
		}
	}
	return false
}

func deviceExtensions(device vk.PhysicalDevice) []string {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return nil
	}
	props := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vk.Success {
		return nil
	}
	names := make([]string, 0, count)
	for i := range props {
		props[i].Deref()
		names = append(names, cString(props[i].ExtensionName[:]))
	}
	return names
}

// detectDepthFormat picks the first depth format usable as an optimally
// tiled attachment.
func (d *Device) detectDepthFormat() bool {
	candidates := []gpu.Format{
		gpu.FormatD32Sfloat,
		gpu.FormatD32SfloatS8Uint,
		gpu.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.PhysicalDevice, toVkFormat(candidate), &properties)
		properties.Deref()
		if properties.OptimalTilingFeatures&flags == flags {
			d.depthFormat = candidate
			core.LogDebug("Depth format: %s", candidate)
			return true
		}
	}
	return false
}

func (d *Device) selectPhysicalDevice() error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(d.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return resultError(res, "vkEnumeratePhysicalDevices")
	}
	if physicalDeviceCount == 0 {
		return errors.New("no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(d.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return resultError(res, "vkEnumeratePhysicalDevices")
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		SamplerAnisotropy:    true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}

	// Prefer a discrete GPU, fall back to anything that works.
	for _, discrete := range []bool{true, false} {
		if discrete && runtime.GOOS == "darwin" {
			continue
		}
		requirements.DiscreteGPU = discrete
		for _, candidate := range physicalDevices {
			var properties vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(candidate, &properties)
			properties.Deref()

			var features vk.PhysicalDeviceFeatures
			vk.GetPhysicalDeviceFeatures(candidate, &features)
			features.Deref()

			queueInfo, ok := d.physicalDeviceMeetsRequirements(candidate, &properties, &features, &requirements)
			if !ok {
				continue
			}

			var memory vk.PhysicalDeviceMemoryProperties
			vk.GetPhysicalDeviceMemoryProperties(candidate, &memory)
			memory.Deref()

			d.PhysicalDevice = candidate
			d.GraphicsQueueIndex = uint32(queueInfo.GraphicsFamilyIndex)
			d.PresentQueueIndex = uint32(queueInfo.PresentFamilyIndex)
			d.Properties = properties
			d.Features = features
			d.Memory = memory
			logDeviceInfo(&properties, &memory)
			return nil
		}
	}
	return errors.New("no physical devices were found which meet the requirements")
}

func logDeviceInfo(properties *vk.PhysicalDeviceProperties, memory *vk.PhysicalDeviceMemoryProperties) {
	core.LogInfo("Selected device: '%s'.", cString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}

	driver := vk.Version(properties.DriverVersion)
	core.LogInfo("GPU Driver version: %d.%d.%d", driver.Major(), driver.Minor(), driver.Patch())
	api := vk.Version(properties.ApiVersion)
	core.LogInfo("Vulkan API version: %d.%d.%d", api.Major(), api.Minor(), api.Patch())

	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		heap := memory.MemoryHeaps[j]
		heap.Deref()
		memorySizeGib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}
}

func (d *Device) physicalDeviceMeetsRequirements(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, features *vk.PhysicalDeviceFeatures, requirements *VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	info := VulkanPhysicalDeviceQueueFamilyInfo{GraphicsFamilyIndex: -1, PresentFamilyIndex: -1}
	name := cString(properties.DeviceName[:])

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogDebug("Device '%s' is not a discrete GPU, skipping.", name)
		return info, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	for i := range queueFamilies {
		queueFamilies[i].Deref()
		if info.GraphicsFamilyIndex < 0 && vk.QueueFlagBits(queueFamilies[i].QueueFlags)&vk.QueueGraphicsBit != 0 {
			info.GraphicsFamilyIndex = int32(i)
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), d.Surface, &supportsPresent); res != vk.Success {
			return info, false
		}
		// A family doing both avoids ownership transfers.
		if supportsPresent == vk.True && (info.PresentFamilyIndex < 0 || int32(i) == info.GraphicsFamilyIndex) {
			info.PresentFamilyIndex = int32(i)
		}
	}

	if requirements.Graphics && info.GraphicsFamilyIndex < 0 {
		core.LogDebug("Device '%s' has no graphics queue, skipping.", name)
		return info, false
	}
	if requirements.Present && info.PresentFamilyIndex < 0 {
		core.LogDebug("Device '%s' cannot present to the surface, skipping.", name)
		return info, false
	}

	var formatCount, presentModeCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(device, d.Surface, &formatCount, nil)
	vk.GetPhysicalDeviceSurfacePresentModes(device, d.Surface, &presentModeCount, nil)
	if formatCount == 0 || presentModeCount == 0 {
		core.LogDebug("Required swapchain support not present on '%s', skipping.", name)
		return info, false
	}

	available := deviceExtensions(device)
	for _, required := range requirements.DeviceExtensionNames {
		found := false
		for _, ext := range available {
			if ext == required {
				found = true
				break
			}
		}
		if !found {
			core.LogDebug("Required extension not found: '%s', skipping device.", required)
			return info, false
		}
	}

	if requirements.SamplerAnisotropy && features.SamplerAnisotropy == vk.False {
		core.LogDebug("Device '%s' does not support samplerAnisotropy, skipping.", name)
		return info, false
	}

	core.LogDebug("Graphics Family Index: %d", info.GraphicsFamilyIndex)
	core.LogDebug("Present Family Index:  %d", info.PresentFamilyIndex)
	return info, true
}
