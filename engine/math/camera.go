package math

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Camera is a look-at camera with a perspective projection.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3
	// Vertical field of view in radians.
	FovY float32
	Near float32
	Far  float32
}

func NewCamera(position, target mgl32.Vec3) *Camera {
	return &Camera{
		Position: position,
		Target:   target,
		Up:       mgl32.Vec3{0, 1, 0},
		FovY:     mgl32.DegToRad(45),
		Near:     0.1,
		Far:      1000.0,
	}
}

func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Target, c.Up)
}

// Projection returns a perspective projection for clip space with Y pointing
// down, as the swapchain images expect.
func (c *Camera) Projection(aspect float32) mgl32.Mat4 {
	if aspect <= 0 {
		aspect = 1
	}
	proj := mgl32.Perspective(c.FovY, aspect, c.Near, c.Far)
	proj[5] *= -1
	return proj
}

func (c *Camera) ViewProjection(aspect float32) mgl32.Mat4 {
	return c.Projection(aspect).Mul4(c.View())
}
