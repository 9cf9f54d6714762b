package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
)

// Window is the platform side the device presents to.
type Window interface {
	GetRequiredInstanceExtensions() []string
	CreateWindowSurface(instance interface{}, allocator unsafe.Pointer) (uintptr, error)
}

type Config struct {
	ApplicationName string
	// Validation enables the Khronos validation layer and the debug report
	// callback.
	Validation bool
}

const validationLayer = "VK_LAYER_KHRONOS_validation"

// New creates the instance, the window surface and the logical device.
// glfw must be initialized.
func New(window Window, cfg Config) (*Device, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, errors.New("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing vulkan loader")
	}

	d := newDevice()
	if err := d.createInstance(window, cfg); err != nil {
		return nil, err
	}

	if cfg.Validation {
		if err := d.createDebugCallback(); err != nil {
			d.Destroy()
			return nil, err
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := window.CreateWindowSurface(d.Instance, nil)
	if err != nil {
		d.Destroy()
		return nil, errors.Wrap(err, "creating window surface")
	}
	d.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if err := d.createLogicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}

	core.LogInfo("Vulkan device initialized successfully.")
	return d, nil
}

func (d *Device) createInstance(window Window, cfg Config) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(cfg.ApplicationName),
		PEngineName:        VulkanSafeString("Kiln Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, window.GetRequiredInstanceExtensions()...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	if cfg.Validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	core.LogDebug("Required extensions: %v", requiredExtensions)

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var layers []string
	if cfg.Validation {
		core.LogInfo("Validation layers enabled. Enumerating...")
		if err := requireLayer(validationLayer); err != nil {
			return err
		}
		layers = []string{validationLayer}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, d.Allocator, &d.Instance); res != vk.Success {
		return resultError(res, "vkCreateInstance")
	}
	if err := vk.InitInstance(d.Instance); err != nil {
		return errors.Wrap(err, "initializing instance functions")
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func requireLayer(name string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError(res, "vkEnumerateInstanceLayerProperties")
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError(res, "vkEnumerateInstanceLayerProperties")
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].LayerName[:]) == name {
			core.LogInfo("Found layer %s.", name)
			return nil
		}
	}
	return errors.Newf("required validation layer is missing: %s", name)
}

func (d *Device) createDebugCallback() error {
	core.LogDebug("Creating Vulkan debugger...")
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if res := vk.CreateDebugReportCallback(d.Instance, &debugCreateInfo, d.Allocator, &dbg); res != vk.Success {
		return resultError(res, "vkCreateDebugReportCallback")
	}
	d.debugCallback = dbg
	core.LogDebug("Vulkan debugger created.")
	return nil
}

// WaitIdle blocks until the device has finished all submitted work.
func (d *Device) WaitIdle() error {
	if d.LogicalDevice == nil {
		return nil
	}
	return resultError(vk.DeviceWaitIdle(d.LogicalDevice), "vkDeviceWaitIdle")
}

// Destroy releases the device, the surface and the instance. Every object
// created through the device must already be destroyed; leftovers are
// reported.
func (d *Device) Destroy() {
	if d.LogicalDevice != nil {
		vk.DeviceWaitIdle(d.LogicalDevice)
		for kind, n := range d.liveObjects() {
			core.LogWarn("destroying device with %d live %s objects", n, kind)
		}
		d.destroyLogicalDevice()
	}

	if d.Surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(d.Instance, d.Surface, d.Allocator)
		d.Surface = vk.NullSurface
	}

	if d.debugCallback != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(d.Instance, d.debugCallback, d.Allocator)
		d.debugCallback = vk.NullDebugReportCallback
	}

	if d.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(d.Instance, d.Allocator)
		d.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
