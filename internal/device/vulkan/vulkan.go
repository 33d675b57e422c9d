// Package vulkan implements device.Context on top of vkngwrapper. It owns the
// instance, the debug messenger, the window surface, the logical device with
// its graphics and present queues, and the command pool every frame records from.
package vulkan

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/ext_debug_utils"
	"github.com/vkngwrapper/extensions/khr_portability_subset"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"
	vkng_surface_sdl2 "github.com/vkngwrapper/integrations/sdl2"
	"golang.org/x/exp/slog"

	"github.com/iliadengine/iliad/internal/device"
	"github.com/iliadengine/iliad/internal/logging"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

var ErrNoSuitableDevice = errors.New("no suitable GPU")

type Options struct {
	ApplicationName string
	// Validation enables the Khronos validation layer and routes its messages
	// to Logger.
	Validation bool
	Logger     *slog.Logger
}

type queueFamilies struct {
	graphics *int
	present  *int
}

func (q queueFamilies) complete() bool {
	return q.graphics != nil && q.present != nil
}

type Device struct {
	logger *slog.Logger
	opts   Options

	loader         core.Loader
	instance       core1_0.Instance
	debugMessenger ext_debug_utils.Messenger
	surface        khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	families       queueFamilies
	limits         device.Limits
	memoryTypes    []core1_0.MemoryType
	// maxAnisotropy is zero when sampler anisotropy is not enabled.
	maxAnisotropy float32

	graphicsQueue core1_0.Queue
	presentQueue  core1_0.Queue

	swapchainExtension khr_swapchain.Extension
	commandPool        core1_0.CommandPool
}

var _ device.Context = (*Device)(nil)

// New brings up Vulkan for window. On failure everything created so far is
// released again.
func New(window *sdl.Window, opts Options) (*Device, error) {
	if opts.ApplicationName == "" {
		opts.ApplicationName = "Iliad"
	}

	d := &Device{
		logger: logging.OrNop(opts.Logger),
		opts:   opts,
	}

	var err error
	d.loader, err = core.CreateLoaderFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "create vulkan loader")
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"create instance", func() error { return d.createInstance(window) }},
		{"set up debug messenger", d.setupDebugMessenger},
		{"create surface", func() error { return d.createSurface(window) }},
		{"pick physical device", d.pickPhysicalDevice},
		{"create logical device", d.createLogicalDevice},
		{"create command pool", d.createCommandPool},
	}
	for _, step := range steps {
		err = step.run()
		if err != nil {
			d.Destroy()
			return nil, errors.Wrap(err, step.name)
		}
	}

	return d, nil
}

func (d *Device) createInstance(window *sdl.Window) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    d.opts.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "Iliad",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := window.VulkanGetInstanceExtensions()
	extensions, _, err := d.loader.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Newf("missing instance extension %s required by sdl", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if d.opts.Validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	if d.opts.Validation {
		layers, _, err := d.loader.AvailableLayers()
		if err != nil {
			return err
		}

		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Newf("validation layer %s not available, install the LunarG Vulkan SDK or disable validation", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		// Reports problems in instance creation itself.
		instanceOptions.Next = d.debugMessengerOptions()
	}

	d.instance, _, err = d.loader.CreateInstance(nil, instanceOptions)
	return err
}

func (d *Device) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning | ext_debug_utils.SeverityInfo,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    d.logDebug,
	}
}

func (d *Device) setupDebugMessenger() error {
	if !d.opts.Validation {
		return nil
	}

	var err error
	debugLoader := ext_debug_utils.CreateExtensionFromInstance(d.instance)
	d.debugMessenger, _, err = debugLoader.CreateDebugUtilsMessenger(d.instance, nil, d.debugMessengerOptions())
	return err
}

func (d *Device) logDebug(msgType ext_debug_utils.MessageTypes, severity ext_debug_utils.MessageSeverities, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	d.logger.Log(context.Background(), debugLevel(severity), data.Message, slog.String("Type", msgType.String()))
	return false
}

func (d *Device) createSurface(window *sdl.Window) error {
	surfaceLoader := vkng_surface_sdl2.CreateExtensionFromInstance(d.instance)

	surface, res, err := surfaceLoader.CreateSurface(d.instance, window)
	if err != nil {
		return check(res, err)
	}

	d.surface = surface
	return nil
}

func (d *Device) pickPhysicalDevice() error {
	physicalDevices, _, err := d.instance.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, physicalDevice := range physicalDevices {
		families, suitable := d.isDeviceSuitable(physicalDevice)
		if suitable {
			d.physicalDevice = physicalDevice
			d.families = families
			break
		}
	}

	if d.physicalDevice == nil {
		return ErrNoSuitableDevice
	}

	properties, err := d.physicalDevice.Properties()
	if err != nil {
		return err
	}
	d.limits = device.Limits{
		MinUniformBufferOffsetAlignment: int(properties.Limits.MinUniformBufferOffsetAlignment),
		NonCoherentAtomSize:             int(properties.Limits.NonCoherentAtomSize),
	}
	d.memoryTypes = d.physicalDevice.MemoryProperties().MemoryTypes
	if d.physicalDevice.Features().SamplerAnisotropy {
		d.maxAnisotropy = properties.Limits.MaxSamplerAnisotropy
	}

	d.logger.Info("selected GPU",
		slog.String("Name", properties.DriverName),
		slog.Int("GraphicsFamily", *d.families.graphics),
		slog.Int("PresentFamily", *d.families.present))
	return nil
}

func (d *Device) isDeviceSuitable(physicalDevice core1_0.PhysicalDevice) (queueFamilies, bool) {
	families, err := d.findQueueFamilies(physicalDevice)
	if err != nil || !families.complete() {
		return families, false
	}

	if !checkDeviceExtensionSupport(physicalDevice) {
		return families, false
	}

	support, err := d.querySurfaceSupport(physicalDevice)
	if err != nil {
		return families, false
	}

	return families, len(support.Formats) > 0 && len(support.PresentModes) > 0
}

func checkDeviceExtensionSupport(physicalDevice core1_0.PhysicalDevice) bool {
	extensions, _, err := physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false
		}
	}

	return true
}

func (d *Device) findQueueFamilies(physicalDevice core1_0.PhysicalDevice) (queueFamilies, error) {
	var families queueFamilies

	for queueFamilyIdx, queueFamily := range physicalDevice.QueueFamilyProperties() {
		if families.graphics == nil && (queueFamily.QueueFlags&core1_0.QueueGraphics) != 0 {
			families.graphics = new(int)
			*families.graphics = queueFamilyIdx
		}

		supported, _, err := d.surface.PhysicalDeviceSurfaceSupport(physicalDevice, queueFamilyIdx)
		if err != nil {
			return families, err
		}

		if supported && families.present == nil {
			families.present = new(int)
			*families.present = queueFamilyIdx
		}

		if families.complete() {
			break
		}
	}

	return families, nil
}

func (d *Device) querySurfaceSupport(physicalDevice core1_0.PhysicalDevice) (device.SurfaceSupport, error) {
	var support device.SurfaceSupport
	var err error

	support.Capabilities, _, err = d.surface.PhysicalDeviceSurfaceCapabilities(physicalDevice)
	if err != nil {
		return support, err
	}

	support.Formats, _, err = d.surface.PhysicalDeviceSurfaceFormats(physicalDevice)
	if err != nil {
		return support, err
	}

	support.PresentModes, _, err = d.surface.PhysicalDeviceSurfacePresentModes(physicalDevice)
	return support, err
}

func (d *Device) createLogicalDevice() error {
	uniqueQueueFamilies := []int{*d.families.graphics}
	if uniqueQueueFamilies[0] != *d.families.present {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *d.families.present)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{1.0},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	// Required on MoltenVK.
	extensions, _, err := d.physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return err
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	d.device, _, err = d.physicalDevice.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueFamilyOptions,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: d.maxAnisotropy > 0,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	d.graphicsQueue = d.device.GetQueue(*d.families.graphics, 0)
	d.presentQueue = d.device.GetQueue(*d.families.present, 0)
	d.swapchainExtension = khr_swapchain.CreateExtensionFromDevice(d.device)
	return nil
}

func (d *Device) createCommandPool() error {
	pool, _, err := d.device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: d.families.graphics,
	})
	if err != nil {
		return err
	}

	d.commandPool = pool
	return nil
}

// Destroy releases the device and the instance. Every object created through
// the context must have been destroyed first.
func (d *Device) Destroy() {
	if d.commandPool != nil {
		d.commandPool.Destroy(nil)
		d.commandPool = nil
	}

	if d.device != nil {
		d.device.Destroy(nil)
		d.device = nil
	}

	if d.debugMessenger != nil {
		d.debugMessenger.Destroy(nil)
		d.debugMessenger = nil
	}

	if d.surface != nil {
		d.surface.Destroy(nil)
		d.surface = nil
	}

	if d.instance != nil {
		d.instance.Destroy(nil)
		d.instance = nil
	}
}
