package math

import "github.com/go-gl/mathgl/mgl32"

// VertexFloats is the number of float32 in one interleaved vertex:
// position, normal and uv.
const VertexFloats = 8

// Vertex3D is one interleaved mesh vertex.
type Vertex3D struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	Texcoord mgl32.Vec2
}

// Flatten packs vertices in the layout the scene renderer reads.
func Flatten(vertices []Vertex3D) []float32 {
	out := make([]float32, 0, len(vertices)*VertexFloats)
	for _, v := range vertices {
		out = append(out, v.Position[:]...)
		out = append(out, v.Normal[:]...)
		out = append(out, v.Texcoord[:]...)
	}
	return out
}

// GeometryGenerateNormals assigns face normals to every triangle.
func GeometryGenerateNormals(vertices []Vertex3D, indices []uint32) {
	for i := 0; i+2 < len(indices); i += 3 {
		i0 := indices[i+0]
		i1 := indices[i+1]
		i2 := indices[i+2]

		edge1 := vertices[i1].Position.Sub(vertices[i0].Position)
		edge2 := vertices[i2].Position.Sub(vertices[i0].Position)
		normal := edge1.Cross(edge2).Normalize()

		// NOTE: This just generates a face normal. Smoothing out should be done in a separate pass if desired.
		vertices[i0].Normal = normal
		vertices[i1].Normal = normal
		vertices[i2].Normal = normal
	}
}

// GenerateCube builds a box centered on the origin with 4 vertices per face
// and counter clockwise winding seen from outside. Texture coordinates
// repeat tileX by tileY times per face.
func GenerateCube(width, height, depth, tileX, tileY float32) ([]Vertex3D, []uint32) {
	if width == 0 {
		width = 1
	}
	if height == 0 {
		height = 1
	}
	if depth == 0 {
		depth = 1
	}
	if tileX == 0 {
		tileX = 1
	}
	if tileY == 0 {
		tileY = 1
	}
	hx, hy, hz := width*0.5, height*0.5, depth*0.5

	// corners of each face in counter clockwise order
	faces := [6][4]mgl32.Vec3{
		{{-hx, -hy, hz}, {hx, -hy, hz}, {hx, hy, hz}, {-hx, hy, hz}},     // front
		{{hx, -hy, -hz}, {-hx, -hy, -hz}, {-hx, hy, -hz}, {hx, hy, -hz}}, // back
		{{-hx, -hy, -hz}, {-hx, -hy, hz}, {-hx, hy, hz}, {-hx, hy, -hz}}, // left
		{{hx, -hy, hz}, {hx, -hy, -hz}, {hx, hy, -hz}, {hx, hy, hz}},     // right
		{{-hx, -hy, -hz}, {hx, -hy, -hz}, {hx, -hy, hz}, {-hx, -hy, hz}}, // bottom
		{{-hx, hy, hz}, {hx, hy, hz}, {hx, hy, -hz}, {-hx, hy, -hz}},     // top
	}
	uvs := [4]mgl32.Vec2{{0, tileY}, {tileX, tileY}, {tileX, 0}, {0, 0}}

	vertices := make([]Vertex3D, 0, 24)
	indices := make([]uint32, 0, 36)
	for f, corners := range faces {
		base := uint32(f * 4)
		for c, p := range corners {
			vertices = append(vertices, Vertex3D{Position: p, Texcoord: uvs[c]})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	GeometryGenerateNormals(vertices, indices)
	return vertices, indices
}
