package assets

import (
	"github.com/vkngwrapper/core/core1_0"

	"github.com/iliadengine/iliad/internal/buffer"
	"github.com/iliadengine/iliad/internal/device"
)

// Mesh is vertex and optional index data resident in device-local memory.
type Mesh struct {
	vertices    *buffer.Buffer
	indices     *buffer.Buffer
	vertexCount int
	indexCount  int
}

func (m *Mesh) VertexCount() int             { return m.vertexCount }
func (m *Mesh) IndexCount() int              { return m.indexCount }
func (m *Mesh) VertexBuffer() *buffer.Buffer { return m.vertices }
func (m *Mesh) IndexBuffer() *buffer.Buffer  { return m.indices }

func (m *Mesh) Bind(commandBuffer device.CommandBuffer) {
	commandBuffer.BindVertexBuffers([]device.Buffer{m.vertices.Handle()}, []int{0})
	if m.indices != nil {
		commandBuffer.BindIndexBuffer(m.indices.Handle(), 0, core1_0.IndexTypeUInt32)
	}
}

func (m *Mesh) Draw(commandBuffer device.CommandBuffer) {
	if m.indices != nil {
		commandBuffer.DrawIndexed(m.indexCount, 1, 0, 0, 0)
		return
	}
	commandBuffer.Draw(m.vertexCount, 1, 0, 0)
}

// Destroy releases the mesh buffers. No submitted frame may still draw it.
func (m *Mesh) Destroy() {
	if m.vertices != nil {
		m.vertices.Destroy()
		m.vertices = nil
	}
	if m.indices != nil {
		m.indices.Destroy()
		m.indices = nil
	}
}
