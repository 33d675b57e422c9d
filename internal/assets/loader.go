// Package assets loads meshes into device-local buffers. A Loader is created
// for a device and passed to whatever needs to load content.
package assets

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/core1_0"
	"golang.org/x/exp/slog"

	"github.com/iliadengine/iliad/internal/buffer"
	"github.com/iliadengine/iliad/internal/device"
	"github.com/iliadengine/iliad/internal/logging"
)

var ErrInvalidMesh = errors.New("invalid mesh")

type Loader struct {
	ctx    device.Context
	logger *slog.Logger
}

func NewLoader(ctx device.Context, logger *slog.Logger) *Loader {
	return &Loader{ctx: ctx, logger: logging.OrNop(logger)}
}

// LoadOBJFile loads the mesh at path, along with the material library next to
// it if there is one.
func (l *Loader) LoadOBJFile(path string) (*Mesh, error) {
	meshFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open mesh")
	}
	defer meshFile.Close()

	var materials io.Reader
	matFile, err := os.Open(strings.TrimSuffix(path, filepath.Ext(path)) + ".mtl")
	if err == nil {
		defer matFile.Close()
		materials = matFile
	}

	mesh, err := l.LoadOBJ(meshFile, materials)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return mesh, nil
}

// LoadOBJ decodes a Wavefront OBJ mesh and uploads it. materials may be nil.
func (l *Loader) LoadOBJ(mesh, materials io.Reader) (*Mesh, error) {
	vertices, indices, err := DecodeOBJ(mesh, materials)
	if err != nil {
		return nil, err
	}

	return l.NewMesh(vertices, indices)
}

// DecodeOBJ triangulates every face and merges identical vertices.
func DecodeOBJ(mesh, materials io.Reader) ([]Vertex, []uint32, error) {
	if materials == nil {
		materials = strings.NewReader("")
	}

	decoder, err := obj.DecodeReader(mesh, materials)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decode obj")
	}

	var vertices []Vertex
	var indices []uint32
	uniqueVertices := make(map[Vertex]uint32)

	addVertex := func(face obj.Face, corner int) {
		vert := Vertex{Color: mgl32.Vec3{1, 1, 1}}

		vertInd := face.Vertices[corner]
		vert.Position = mgl32.Vec3{
			decoder.Vertices[vertInd*3],
			decoder.Vertices[vertInd*3+1],
			decoder.Vertices[vertInd*3+2],
		}

		if corner < len(face.Normals) {
			normalInd := face.Normals[corner]
			if normalInd >= 0 && normalInd*3+2 < len(decoder.Normals) {
				vert.Normal = mgl32.Vec3{
					decoder.Normals[normalInd*3],
					decoder.Normals[normalInd*3+1],
					decoder.Normals[normalInd*3+2],
				}
			}
		}

		if corner < len(face.Uvs) {
			uvInd := face.Uvs[corner]
			if uvInd >= 0 && uvInd*2+1 < len(decoder.Uvs) {
				vert.TexCoord = mgl32.Vec2{
					decoder.Uvs[uvInd*2],
					1.0 - decoder.Uvs[uvInd*2+1],
				}
			}
		}

		index, exists := uniqueVertices[vert]
		if !exists {
			index = uint32(len(vertices))
			vertices = append(vertices, vert)
			uniqueVertices[vert] = index
		}
		indices = append(indices, index)
	}

	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			for _, vertInd := range face.Vertices {
				if vertInd < 0 || vertInd*3+2 >= len(decoder.Vertices) {
					return nil, nil, errors.Mark(errors.Newf("face references vertex %d of %d", vertInd, len(decoder.Vertices)/3), ErrInvalidMesh)
				}
			}

			// fan-triangulate polygons
			for i := 2; i < len(face.Vertices); i++ {
				addVertex(face, 0)
				addVertex(face, i-1)
				addVertex(face, i)
			}
		}
	}

	return vertices, indices, nil
}

// NewMesh uploads vertices, and indices when there are any, into device-local
// buffers through temporary staging buffers.
func (l *Loader) NewMesh(vertices []Vertex, indices []uint32) (*Mesh, error) {
	if len(vertices) < 3 {
		return nil, errors.Mark(errors.Newf("mesh with %d vertices", len(vertices)), ErrInvalidMesh)
	}

	mesh := &Mesh{vertexCount: len(vertices), indexCount: len(indices)}

	// Vertex buffers are laid out with the stride pipelines bind them at.
	stride := VertexBindingDescriptions()[0].Stride

	var err error
	mesh.vertices, err = l.upload(vertices, stride, len(vertices), core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return nil, errors.Wrap(err, "upload vertices")
	}

	if len(indices) > 0 {
		mesh.indices, err = l.upload(indices, binary.Size(uint32(0)), len(indices), core1_0.BufferUsageIndexBuffer)
		if err != nil {
			mesh.Destroy()
			return nil, errors.Wrap(err, "upload indices")
		}
	}

	l.logger.Debug("loaded mesh", slog.Int("Vertices", len(vertices)), slog.Int("Indices", len(indices)))
	return mesh, nil
}

func (l *Loader) upload(data any, elementSize, count int, usage core1_0.BufferUsageFlags) (*buffer.Buffer, error) {
	encoded, err := buffer.Encode(data)
	if err != nil {
		return nil, err
	}
	if len(encoded) != elementSize*count {
		return nil, errors.AssertionFailedf("encoded %d bytes for %d elements of %d bytes", len(encoded), count, elementSize)
	}

	staging, err := buffer.New(l.ctx, elementSize, count, core1_0.BufferUsageTransferSrc,
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent, 1)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	err = staging.Map()
	if err != nil {
		return nil, err
	}

	err = staging.WriteToBuffer(encoded, buffer.WholeSize, 0)
	if err != nil {
		return nil, err
	}

	target, err := buffer.New(l.ctx, elementSize, count, usage|core1_0.BufferUsageTransferDst,
		core1_0.MemoryPropertyDeviceLocal, 1)
	if err != nil {
		return nil, err
	}

	err = l.ctx.CopyBuffer(staging.Handle(), target.Handle(), staging.Size())
	if err != nil {
		target.Destroy()
		return nil, errors.Wrap(err, "copy staging buffer")
	}

	return target, nil
}
