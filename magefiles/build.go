//go:build mage

package main

import (
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var shaderSources = []string{
	"shaders/scene.vert",
	"shaders/scene.frag",
}

// Compiles the GLSL sources under shaders/ into SPIR-V with glslc.
func (Build) Shaders() error {
	for _, src := range shaderSources {
		out := src + ".spv"
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the testbed binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "kiln"), "."), withStream())
	return err
}

func shaderOutputs() string {
	outs := make([]string, 0, len(shaderSources))
	for _, src := range shaderSources {
		outs = append(outs, src+".spv")
	}
	return strings.Join(outs, ", ")
}
