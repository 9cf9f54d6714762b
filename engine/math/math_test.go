package math

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, uint32(2), Clamp[uint32](1, 2, 10))
	assert.Equal(t, uint32(10), Clamp[uint32](20, 2, 10))
	assert.Equal(t, 0.5, Clamp(0.5, 0.0, 1.0))
}

func TestCameraProjectionFlipsY(t *testing.T) {
	c := NewCamera(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0})
	p := c.Projection(16.0 / 9.0)
	assert.Less(t, p[5], float32(0))

	// the target sits in the middle of the screen
	clip := c.ViewProjection(1).Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 0, clip.X()/clip.W(), 1e-5)
	assert.InDelta(t, 0, clip.Y()/clip.W(), 1e-5)
}

func TestCameraZeroAspect(t *testing.T) {
	c := NewCamera(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{})
	assert.Equal(t, c.Projection(1), c.Projection(0))
}

func TestTransformParentChain(t *testing.T) {
	parent := TransformFromPosition(mgl32.Vec3{10, 0, 0})
	child := TransformFromPosition(mgl32.Vec3{0, 2, 0})
	child.Parent = parent

	p := child.GetWorld().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 10, p.X(), 1e-5)
	assert.InDelta(t, 2, p.Y(), 1e-5)

	// rotating the parent a quarter turn around Y moves the child origin
	// with it only when the child is offset along X or Z
	parent.Rotate(mgl32.QuatRotate(mgl32.DegToRad(90), mgl32.Vec3{0, 1, 0}))
	child.SetPosition(mgl32.Vec3{1, 0, 0})
	p = child.GetWorld().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 10, p.X(), 1e-5)
	assert.InDelta(t, -1, p.Z(), 1e-5)

	var nilTransform *Transform
	assert.Equal(t, mgl32.Ident4(), nilTransform.GetWorld())
}

func TestTransformScale(t *testing.T) {
	tr := TransformCreate()
	tr.SetScale(mgl32.Vec3{2, 3, 4})
	p := tr.GetLocal().Mul4x1(mgl32.Vec4{1, 1, 1, 1})
	assert.Equal(t, mgl32.Vec4{2, 3, 4, 1}, p)
}

func TestGenerateCube(t *testing.T) {
	vertices, indices := GenerateCube(2, 2, 2, 1, 1)
	require.Len(t, vertices, 24)
	require.Len(t, indices, 36)
	assert.Len(t, Flatten(vertices), 24*VertexFloats)

	// every face normal points away from the center
	for i := 0; i < len(indices); i += 3 {
		v := vertices[indices[i]]
		assert.Greater(t, v.Normal.Dot(v.Position), float32(0), "triangle %d faces inward", i/3)
		assert.InDelta(t, 1, v.Normal.Len(), 1e-5)
	}
	for _, idx := range indices {
		assert.Less(t, idx, uint32(len(vertices)))
	}
}
