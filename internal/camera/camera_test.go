package camera

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const delta = 1e-5

func assertIdentity(t *testing.T, m mgl32.Mat4) {
	t.Helper()
	ident := mgl32.Ident4()
	for i := range m {
		assert.InDelta(t, ident[i], m[i], delta, "element %d of %v", i, m)
	}
}

func assertVec3(t *testing.T, want, got mgl32.Vec3) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], delta, "component %d of %v", i, got)
	}
}

func TestPerspectiveProjection(t *testing.T) {
	c := New()
	require.NoError(t, c.SetPerspectiveProjection(mgl32.DegToRad(90), 2, 0.1, 10))

	p := c.Projection()
	assert.InDelta(t, 0.5, p.At(0, 0), 1e-5)
	assert.InDelta(t, 1, p.At(1, 1), 1e-5)
	assert.InDelta(t, 10/9.9, p.At(2, 2), 1e-5)
	assert.InDelta(t, 1, p.At(3, 2), 1e-5)

	near := p.Mul4x1(mgl32.Vec4{0, 0, 0.1, 1})
	far := p.Mul4x1(mgl32.Vec4{0, 0, 10, 1})
	assert.InDelta(t, 0, near.Z()/near.W(), 1e-5)
	assert.InDelta(t, 1, far.Z()/far.W(), 1e-5)

	err := c.SetPerspectiveProjection(mgl32.DegToRad(60), 0, 0.1, 10)
	require.True(t, errors.HasAssertionFailure(err))
}

func TestOrthographicProjection(t *testing.T) {
	c := New()
	c.SetOrthographicProjection(-2, 2, -1, 1, 0, 4)

	corner := c.Projection().Mul4x1(mgl32.Vec4{2, 1, 4, 1})
	assert.InDelta(t, 1, corner.X(), 1e-5)
	assert.InDelta(t, 1, corner.Y(), 1e-5)
	assert.InDelta(t, 1, corner.Z(), 1e-5)
}

func TestViewTarget(t *testing.T) {
	c := New()
	position := mgl32.Vec3{1, 2, 3}
	require.NoError(t, c.SetViewTarget(position, mgl32.Vec3{1, 2, 10}, mgl32.Vec3{0, -1, 0}))

	assertIdentity(t, c.View().Mul4(c.InverseView()))
	assertVec3(t, position, c.Position())

	origin := c.View().Mul4x1(position.Vec4(1))
	assertVec3(t, mgl32.Vec3{}, origin.Vec3())

	ahead := c.View().Mul4x1(mgl32.Vec4{1, 2, 5, 1})
	assert.InDelta(t, 2, ahead.Z(), 1e-5)

	err := c.SetViewDirection(position, mgl32.Vec3{}, mgl32.Vec3{0, -1, 0})
	require.True(t, errors.HasAssertionFailure(err))
}

func TestViewYXZ(t *testing.T) {
	c := New()
	position := mgl32.Vec3{0, 0, -1}
	c.SetViewYXZ(position, mgl32.Vec3{0.3, float32(math.Pi / 4), 0.1})

	assertIdentity(t, c.View().Mul4(c.InverseView()))
	assertVec3(t, position, c.Position())

	c.SetViewYXZ(mgl32.Vec3{}, mgl32.Vec3{})
	assertIdentity(t, c.View())
}
