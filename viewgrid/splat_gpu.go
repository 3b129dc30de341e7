//go:build !nogpu

package viewgrid

import (
	_ "embed"
	"encoding/binary"
	"image"
	"math"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/pkg/errors"

	// Register the Vulkan backend.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

//go:embed shaders/splat_composite.wgsl
var splatCompositeShaderSource string

const (
	gpuSplatRecordFloats = 12
	gpuParamsSize        = 16
	gpuSubmitTimeout     = 10 * time.Second
	gpuPollInterval      = 100 * time.Microsecond
)

// A gpuAccelerator composites binned splats with a wgpu compute shader.
//
// Projection and binning still happen on the CPU. The device and pipeline
// are created once and shared by all renders, one render at a time.
type gpuAccelerator struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	adapterName string
}

// newGPUAccelerator opens the first usable GPU adapter and compiles the
// compositing pipeline.
func newGPUAccelerator() (*gpuAccelerator, error) {
	a := &gpuAccelerator{}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	Logger().Info("gpu accelerator initialized", "adapter", a.adapterName)
	return a, nil
}

func (a *gpuAccelerator) Name() string {
	return a.adapterName
}

func (a *gpuAccelerator) init() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return errors.New("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return errors.Wrap(err, "create instance")
	}
	a.instance = instance

	adapters := instance.EnumerateAdapters(nil)
	var selected *hal.ExposedAdapter
	for i := range adapters {
		kind := adapters[i].Info.DeviceType
		if kind == gputypes.DeviceTypeDiscreteGPU || kind == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		// Software adapters would be slower than the CPU path.
		return errors.New("no hardware GPU adapter found")
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return errors.Wrap(err, "open device")
	}
	a.device = openDev.Device
	a.queue = openDev.Queue
	a.adapterName = selected.Info.Name
	return errors.Wrap(a.createPipeline(), "create pipeline")
}

func (a *gpuAccelerator) createPipeline() error {
	shader, err := a.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "splat_composite",
		Source: hal.ShaderSource{WGSL: splatCompositeShaderSource},
	})
	if err != nil {
		return errors.Wrap(err, "compile shader")
	}
	a.shader = shader

	storage := func(binding uint32, kind gputypes.BufferBindingType) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: kind},
		}
	}
	a.bindLayout, err = a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "splat_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			storage(0, gputypes.BufferBindingTypeUniform),
			storage(1, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(2, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(3, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(4, gputypes.BufferBindingTypeStorage),
		},
	})
	if err != nil {
		return errors.Wrap(err, "create bind group layout")
	}

	a.pipeLayout, err = a.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "splat_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{a.bindLayout},
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline layout")
	}

	a.pipeline, err = a.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   "splat_pipeline",
		Layout:  a.pipeLayout,
		Compute: hal.ComputeState{Module: a.shader, EntryPoint: "main"},
	})
	return errors.Wrap(err, "create compute pipeline")
}

// Close releases the pipeline and the device.
func (a *gpuAccelerator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.device != nil {
		if a.pipeline != nil {
			a.device.DestroyComputePipeline(a.pipeline)
		}
		if a.pipeLayout != nil {
			a.device.DestroyPipelineLayout(a.pipeLayout)
		}
		if a.bindLayout != nil {
			a.device.DestroyBindGroupLayout(a.bindLayout)
		}
		if a.shader != nil {
			a.device.DestroyShaderModule(a.shader)
		}
		a.device.Destroy()
	}
	if a.instance != nil {
		a.instance.Destroy()
	}
	a.instance, a.device, a.queue = nil, nil, nil
	a.shader, a.bindLayout, a.pipeLayout, a.pipeline = nil, nil, nil, nil
}

// Composite uploads a binned frame, runs the compositing shader and reads
// the pixels back.
func (a *gpuAccelerator) Composite(frame *splatFrame) (*image.NRGBA, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.device == nil {
		return nil, renderErrorf("gpu accelerator is closed")
	}
	img, err := a.composite(frame)
	if err != nil {
		return nil, &RenderError{Reason: "gpu compositing failed", Err: err}
	}
	return img, nil
}

func (a *gpuAccelerator) composite(frame *splatFrame) (*image.NRGBA, error) {
	numPixels := frame.Width * frame.Height
	pixelBytes := uint64(numPixels * 4)

	inputs := [][]byte{
		packParams(frame),
		packSplatRecords(frame.Splats),
		packUint32s(frame.TileStarts),
		packUint32s(frame.TileSplats),
	}
	var buffers []hal.Buffer
	defer func() {
		for _, b := range buffers {
			a.device.DestroyBuffer(b)
		}
	}()
	createBuffer := func(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
		buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
		if err != nil {
			return nil, errors.Wrap(err, "create "+label+" buffer")
		}
		buffers = append(buffers, buf)
		return buf, nil
	}

	entries := make([]gputypes.BindGroupEntry, 0, 5)
	labels := []string{"params", "splats", "tile_starts", "tile_splats"}
	for i, data := range inputs {
		usage := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
		if i == 0 {
			usage = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
		}
		buf, err := createBuffer(labels[i], uint64(len(data)), usage)
		if err != nil {
			return nil, err
		}
		if err := a.queue.WriteBuffer(buf, 0, data); err != nil {
			return nil, errors.Wrap(err, "upload "+labels[i])
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: uint32(i),
			Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Size:   uint64(len(data)),
			},
		})
	}
	pixelBuf, err := createBuffer("pixels", pixelBytes,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, err
	}
	entries = append(entries, gputypes.BindGroupEntry{
		Binding:  4,
		Resource: gputypes.BufferBinding{Buffer: pixelBuf.NativeHandle(), Size: pixelBytes},
	})
	stagingBuf, err := createBuffer("staging", pixelBytes,
		gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}

	bindGroup, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   "splat_bind",
		Layout:  a.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create bind group")
	}
	defer a.device.DestroyBindGroup(bindGroup)

	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "splat_encoder"})
	if err != nil {
		return nil, errors.Wrap(err, "create command encoder")
	}
	if err := encoder.BeginEncoding("splat_composite"); err != nil {
		return nil, errors.Wrap(err, "begin encoding")
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "splat_pass"})
	pass.SetPipeline(a.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Dispatch(uint32(frame.TilesX), uint32(frame.TilesY), 1)
	pass.End()
	encoder.CopyBufferToBuffer(pixelBuf, stagingBuf, []hal.BufferCopy{{Size: pixelBytes}})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, errors.Wrap(err, "end encoding")
	}
	defer a.device.FreeCommandBuffer(cmdBuf)

	index, err := a.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		return nil, errors.Wrap(err, "submit")
	}
	if err := a.waitSubmission(index); err != nil {
		return nil, err
	}

	mapping, err := a.device.MapBuffer(stagingBuf, 0, pixelBytes)
	if err != nil {
		return nil, errors.Wrap(err, "map staging buffer")
	}
	defer a.device.UnmapBuffer(stagingBuf)

	// The packed RGBA words are already in NRGBA byte order.
	img := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	copy(img.Pix, unsafe.Slice((*byte)(mapping.Ptr), pixelBytes))
	return img, nil
}

// waitSubmission blocks until the queue reports index as completed.
func (a *gpuAccelerator) waitSubmission(index uint64) error {
	deadline := time.Now().Add(gpuSubmitTimeout)
	for a.queue.PollCompleted() < index {
		if time.Now().After(deadline) {
			return errors.Errorf("timed out waiting for submission %d", index)
		}
		time.Sleep(gpuPollInterval)
	}
	return nil
}

func packParams(frame *splatFrame) []byte {
	res := make([]byte, gpuParamsSize)
	binary.LittleEndian.PutUint32(res[0:], uint32(frame.Width))
	binary.LittleEndian.PutUint32(res[4:], uint32(frame.Height))
	binary.LittleEndian.PutUint32(res[8:], uint32(frame.TilesX))
	return res
}

// packSplatRecords lays out splats as twelve float32s each, in the field
// order of the shader's Splat struct. Empty inputs yield one zero record
// since storage bindings cannot be empty.
func packSplatRecords(splats []projectedSplat) []byte {
	recordSize := gpuSplatRecordFloats * 4
	res := make([]byte, recordSize*max(len(splats), 1))
	for i, s := range splats {
		fields := [gpuSplatRecordFloats]float64{
			s.MeanX, s.MeanY,
			s.ConicA, s.ConicB, s.ConicC,
			s.Opacity,
			s.Color.X, s.Color.Y, s.Color.Z,
		}
		for j, x := range fields {
			binary.LittleEndian.PutUint32(res[i*recordSize+j*4:], math.Float32bits(float32(x)))
		}
	}
	return res
}

func packUint32s(values []int32) []byte {
	res := make([]byte, 4*max(len(values), 1))
	for i, x := range values {
		binary.LittleEndian.PutUint32(res[i*4:], uint32(x))
	}
	return res
}
