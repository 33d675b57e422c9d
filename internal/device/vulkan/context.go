package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/iliadengine/iliad/internal/device"
)

func (d *Device) SurfaceSupport() (device.SurfaceSupport, error) {
	return d.querySurfaceSupport(d.physicalDevice)
}

func (d *Device) Limits() device.Limits { return d.limits }

func (d *Device) SupportsFormat(format core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) bool {
	props := d.physicalDevice.FormatProperties(format)

	if tiling == core1_0.ImageTilingLinear {
		return (props.LinearTilingFeatures & features) == features
	}
	return (props.OptimalTilingFeatures & features) == features
}

func (d *Device) CreateSwapchain(info device.SwapchainCreateInfo) (device.Swapchain, error) {
	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int

	if *d.families.graphics != *d.families.present {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, *d.families.graphics, *d.families.present)
	}

	var oldSwapchain khr_swapchain.Swapchain
	if info.Old != nil {
		oldSwapchain = info.Old.(*Swapchain).swapchain
	}

	swapchain, res, err := d.swapchainExtension.CreateSwapchain(d.device, nil, khr_swapchain.SwapchainCreateInfo{
		Surface: d.surface,

		MinImageCount:    info.MinImageCount,
		ImageFormat:      info.Format,
		ImageColorSpace:  info.ColorSpace,
		ImageExtent:      info.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   info.PreTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    info.PresentMode,
		Clipped:        true,
		OldSwapchain:   oldSwapchain,
	})
	if err != nil {
		return nil, check(res, err)
	}

	images, res, err := swapchain.SwapchainImages()
	if err != nil {
		swapchain.Destroy(nil)
		return nil, check(res, err)
	}

	result := &Swapchain{dev: d, swapchain: swapchain}
	for _, image := range images {
		result.images = append(result.images, &Image{image: image})
	}
	return result, nil
}

func (d *Device) CreateImage(info device.ImageCreateInfo) (device.Image, error) {
	image, res, err := d.device.CreateImage(nil, core1_0.ImageCreateOptions{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        info.Format,
		Tiling:        info.Tiling,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         info.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return nil, check(res, err)
	}

	memReqs := image.MemoryRequirements()
	memory, err := d.allocate(memReqs, info.MemoryProperties)
	if err != nil {
		image.Destroy(nil)
		return nil, err
	}

	res, err = image.BindImageMemory(memory, 0)
	if err != nil {
		image.Destroy(nil)
		memory.Free(nil)
		return nil, check(res, err)
	}

	return &Image{image: image, memory: memory}, nil
}

func (d *Device) allocate(memReqs *core1_0.MemoryRequirements, properties core1_0.MemoryPropertyFlags) (core1_0.DeviceMemory, error) {
	memoryTypeIndex, err := findMemoryType(d.memoryTypes, memReqs.MemoryTypeBits, properties)
	if err != nil {
		return nil, err
	}

	memory, res, err := d.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, check(res, err)
	}
	return memory, nil
}

func (d *Device) CreateImageView(image device.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags) (device.ImageView, error) {
	view, res, err := d.device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image.(*Image).image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return nil, check(res, err)
	}

	return &ImageView{view: view}, nil
}

func (d *Device) CreateRenderPass(info core1_0.RenderPassCreateInfo) (device.RenderPass, error) {
	renderPass, res, err := d.device.CreateRenderPass(nil, info)
	if err != nil {
		return nil, check(res, err)
	}

	return &RenderPass{renderPass: renderPass}, nil
}

func (d *Device) CreateFramebuffer(pass device.RenderPass, attachments []device.ImageView, extent core1_0.Extent2D) (device.Framebuffer, error) {
	views := make([]core1_0.ImageView, 0, len(attachments))
	for _, attachment := range attachments {
		views = append(views, attachment.(*ImageView).view)
	}

	framebuffer, res, err := d.device.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  pass.(*RenderPass).renderPass,
		Layers:      1,
		Attachments: views,
		Width:       extent.Width,
		Height:      extent.Height,
	})
	if err != nil {
		return nil, check(res, err)
	}

	return &Framebuffer{framebuffer: framebuffer}, nil
}

func (d *Device) CreateSampler() (device.Sampler, error) {
	sampler, res, err := d.device.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: d.maxAnisotropy > 0,
		MaxAnisotropy:    d.maxAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
	})
	if err != nil {
		return nil, check(res, err)
	}

	return &Sampler{sampler: sampler}, nil
}

func (d *Device) CreateSemaphore() (device.Semaphore, error) {
	semaphore, res, err := d.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, check(res, err)
	}

	return &Semaphore{semaphore: semaphore}, nil
}

func (d *Device) CreateFence(signaled bool) (device.Fence, error) {
	var info core1_0.FenceCreateInfo
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}

	fence, res, err := d.device.CreateFence(nil, info)
	if err != nil {
		return nil, check(res, err)
	}

	return &Fence{device: d.device, fence: fence}, nil
}

func (d *Device) AllocateCommandBuffers(count int) ([]device.CommandBuffer, error) {
	buffers, res, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, check(res, err)
	}

	result := make([]device.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		result = append(result, &CommandBuffer{buffer: buffer})
	}
	return result, nil
}

func (d *Device) FreeCommandBuffers(buffers []device.CommandBuffer) {
	if len(buffers) == 0 {
		return
	}

	handles := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		handles = append(handles, buffer.(*CommandBuffer).buffer)
	}
	d.device.FreeCommandBuffers(handles)
}

func (d *Device) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (device.Buffer, error) {
	if size <= 0 {
		return nil, errors.Mark(errors.Newf("buffer size %d", size), device.ErrInvalidArgument)
	}

	buffer, res, err := d.device.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, check(res, err)
	}

	memRequirements := buffer.MemoryRequirements()
	memory, err := d.allocate(memRequirements, properties)
	if err != nil {
		buffer.Destroy(nil)
		return nil, err
	}

	res, err = buffer.BindBufferMemory(memory, 0)
	if err != nil {
		buffer.Destroy(nil)
		memory.Free(nil)
		return nil, check(res, err)
	}

	return &Buffer{
		dev:            d,
		buffer:         buffer,
		memory:         memory,
		size:           size,
		allocationSize: memRequirements.Size,
		properties:     properties,
	}, nil
}

func (d *Device) CopyBuffer(src, dst device.Buffer, size int) error {
	buffer, err := d.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	err = buffer.CmdCopyBuffer(src.(*Buffer).buffer, dst.(*Buffer).buffer, []core1_0.BufferCopy{
		{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		},
	})
	if err != nil {
		d.device.FreeCommandBuffers([]core1_0.CommandBuffer{buffer})
		return err
	}

	return d.endSingleTimeCommands(buffer)
}

func (d *Device) beginSingleTimeCommands() (core1_0.CommandBuffer, error) {
	buffers, res, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, check(res, err)
	}

	buffer := buffers[0]
	res, err = buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		d.device.FreeCommandBuffers(buffers)
		return nil, check(res, err)
	}
	return buffer, nil
}

func (d *Device) endSingleTimeCommands(buffer core1_0.CommandBuffer) error {
	defer d.device.FreeCommandBuffers([]core1_0.CommandBuffer{buffer})

	res, err := buffer.End()
	if err != nil {
		return check(res, err)
	}

	res, err = d.graphicsQueue.Submit(nil, []core1_0.SubmitInfo{
		{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	})
	if err != nil {
		return check(res, err)
	}

	return check(d.graphicsQueue.WaitIdle())
}

func (d *Device) CreateDescriptorSetLayout(bindings []core1_0.DescriptorSetLayoutBinding) (device.DescriptorSetLayout, error) {
	layout, res, err := d.device.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	if err != nil {
		return nil, check(res, err)
	}

	return &DescriptorSetLayout{layout: layout}, nil
}

func (d *Device) CreateDescriptorPool(maxSets int, sizes []core1_0.DescriptorPoolSize, flags core1_0.DescriptorPoolCreateFlags) (device.DescriptorPool, error) {
	pool, res, err := d.device.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		Flags:     flags,
		MaxSets:   maxSets,
		PoolSizes: sizes,
	})
	if err != nil {
		return nil, check(res, err)
	}

	return &DescriptorPool{
		device:   d.device,
		pool:     pool,
		freeable: flags&core1_0.DescriptorPoolCreateFreeDescriptorSet != 0,
	}, nil
}

func (d *Device) UpdateDescriptorSets(writes []device.DescriptorWrite) error {
	vkWrites := make([]core1_0.WriteDescriptorSet, 0, len(writes))

	for _, write := range writes {
		if (write.Buffer == nil) == (write.Image == nil) {
			return errors.Mark(errors.Newf("write to binding %d must carry exactly one of a buffer or an image", write.Binding), device.ErrInvalidArgument)
		}

		vkWrite := core1_0.WriteDescriptorSet{
			DstSet:          write.Set.(*DescriptorSet).set,
			DstBinding:      write.Binding,
			DstArrayElement: 0,

			DescriptorType: write.Type,
		}

		if write.Buffer != nil {
			vkWrite.BufferInfo = []core1_0.DescriptorBufferInfo{
				{
					Buffer: write.Buffer.Buffer.(*Buffer).buffer,
					Offset: write.Buffer.Offset,
					Range:  write.Buffer.Range,
				},
			}
		} else {
			var sampler core1_0.Sampler
			if write.Image.Sampler != nil {
				sampler = write.Image.Sampler.(*Sampler).sampler
			}
			vkWrite.ImageInfo = []core1_0.DescriptorImageInfo{
				{
					ImageView:   write.Image.View.(*ImageView).view,
					Sampler:     sampler,
					ImageLayout: write.Image.Layout,
				},
			}
		}

		vkWrites = append(vkWrites, vkWrite)
	}

	return d.device.UpdateDescriptorSets(vkWrites, nil)
}

func (d *Device) Submit(info device.SubmitInfo) error {
	var fence core1_0.Fence
	if info.Fence != nil {
		fence = info.Fence.(*Fence).fence
	}

	submit := core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{info.CommandBuffer.(*CommandBuffer).buffer},
	}
	if info.Wait != nil {
		submit.WaitSemaphores = []core1_0.Semaphore{info.Wait.(*Semaphore).semaphore}
		submit.WaitDstStageMask = []core1_0.PipelineStageFlags{info.WaitStage}
	}
	if info.Signal != nil {
		submit.SignalSemaphores = []core1_0.Semaphore{info.Signal.(*Semaphore).semaphore}
	}

	return check(d.graphicsQueue.Submit(fence, []core1_0.SubmitInfo{submit}))
}

func (d *Device) WaitIdle() error {
	return check(d.device.WaitIdle())
}
