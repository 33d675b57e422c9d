// Package camera holds the view and projection matrices draw systems read
// each frame. Projections map depth into [0, 1] with +Y pointing down.
package camera

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
)

const epsilon = 1e-6

type Camera struct {
	projection  mgl32.Mat4
	view        mgl32.Mat4
	inverseView mgl32.Mat4
}

func New() *Camera {
	return &Camera{
		projection:  mgl32.Ident4(),
		view:        mgl32.Ident4(),
		inverseView: mgl32.Ident4(),
	}
}

func (c *Camera) Projection() mgl32.Mat4  { return c.projection }
func (c *Camera) View() mgl32.Mat4        { return c.view }
func (c *Camera) InverseView() mgl32.Mat4 { return c.inverseView }

// Position is the camera's location in world space.
func (c *Camera) Position() mgl32.Vec3 { return c.inverseView.Col(3).Vec3() }

func (c *Camera) SetOrthographicProjection(left, right, bottom, top, near, far float32) {
	c.projection = mgl32.Ident4()
	c.projection.Set(0, 0, 2/(right-left))
	c.projection.Set(1, 1, 2/(top-bottom))
	c.projection.Set(2, 2, 1/(far-near))
	c.projection.Set(0, 3, -(right+left)/(right-left))
	c.projection.Set(1, 3, -(top+bottom)/(top-bottom))
	c.projection.Set(2, 3, -near/(far-near))
}

func (c *Camera) SetPerspectiveProjection(fovy, aspect, near, far float32) error {
	if math.Abs(float64(aspect)) < epsilon {
		return errors.AssertionFailedf("perspective projection with aspect ratio %f", aspect)
	}

	tanHalfFovy := float32(math.Tan(float64(fovy) / 2))
	c.projection = mgl32.Mat4{}
	c.projection.Set(0, 0, 1/(aspect*tanHalfFovy))
	c.projection.Set(1, 1, 1/tanHalfFovy)
	c.projection.Set(2, 2, far/(far-near))
	c.projection.Set(3, 2, 1)
	c.projection.Set(2, 3, -(far*near)/(far-near))
	return nil
}

func (c *Camera) SetViewDirection(position, direction, up mgl32.Vec3) error {
	if direction.Len() < epsilon {
		return errors.AssertionFailedf("view direction must be a non-zero vector")
	}

	w := direction.Normalize()
	u := w.Cross(up).Normalize()
	v := w.Cross(u)
	c.setBasis(position, u, v, w)
	return nil
}

func (c *Camera) SetViewTarget(position, target, up mgl32.Vec3) error {
	return c.SetViewDirection(position, target.Sub(position), up)
}

// SetViewYXZ orients the camera with Tait-Bryan angles applied in Y, X, Z order.
func (c *Camera) SetViewYXZ(position, rotation mgl32.Vec3) {
	c3 := float32(math.Cos(float64(rotation.Z())))
	s3 := float32(math.Sin(float64(rotation.Z())))
	c2 := float32(math.Cos(float64(rotation.X())))
	s2 := float32(math.Sin(float64(rotation.X())))
	c1 := float32(math.Cos(float64(rotation.Y())))
	s1 := float32(math.Sin(float64(rotation.Y())))

	u := mgl32.Vec3{c1*c3 + s1*s2*s3, c2 * s3, c1*s2*s3 - c3*s1}
	v := mgl32.Vec3{c3*s1*s2 - c1*s3, c2 * c3, c1*c3*s2 + s1*s3}
	w := mgl32.Vec3{c2 * s1, -s2, c1 * c2}
	c.setBasis(position, u, v, w)
}

// setBasis builds the view matrix from an orthonormal basis and its inverse.
func (c *Camera) setBasis(position, u, v, w mgl32.Vec3) {
	c.view = mgl32.Ident4()
	c.view.SetRow(0, u.Vec4(-u.Dot(position)))
	c.view.SetRow(1, v.Vec4(-v.Dot(position)))
	c.view.SetRow(2, w.Vec4(-w.Dot(position)))

	c.inverseView = mgl32.Ident4()
	c.inverseView.SetCol(0, u.Vec4(0))
	c.inverseView.SetCol(1, v.Vec4(0))
	c.inverseView.SetCol(2, w.Vec4(0))
	c.inverseView.SetCol(3, position.Vec4(1))
}
