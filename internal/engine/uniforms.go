package engine

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/iliadengine/iliad/internal/camera"
)

// MaxPointLights is the number of lights the global uniform block has room for.
const MaxPointLights = 10

var DefaultAmbientColor = mgl32.Vec4{1, 1, 1, 0.02}

type PointLight struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
	// Intensity scales Color. It is stored in the color's alpha channel.
	Intensity float32
}

type pointLightUniform struct {
	Position mgl32.Vec4
	Color    mgl32.Vec4
}

// GlobalUbo is the layout of the uniform block bound at set 0, binding 0.
type GlobalUbo struct {
	Projection  mgl32.Mat4
	View        mgl32.Mat4
	InverseView mgl32.Mat4
	// AmbientColor's alpha channel is its intensity.
	AmbientColor mgl32.Vec4
	PointLights  [MaxPointLights]pointLightUniform
	NumLights    int32
	_            [12]byte
}

func newGlobalUbo(cam *camera.Camera, ambient mgl32.Vec4, lights []PointLight) GlobalUbo {
	ubo := GlobalUbo{
		Projection:   cam.Projection(),
		View:         cam.View(),
		InverseView:  cam.InverseView(),
		AmbientColor: ambient,
	}

	for i, light := range lights {
		if i == MaxPointLights {
			break
		}
		ubo.PointLights[i] = pointLightUniform{
			Position: light.Position.Vec4(1),
			Color:    light.Color.Vec4(light.Intensity),
		}
		ubo.NumLights++
	}
	return ubo
}
