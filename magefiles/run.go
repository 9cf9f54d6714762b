//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Printf("Run engine with %s...\n", shaderOutputs())
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "kiln.toml"), withStream()); err != nil {
		return err
	}
	return nil
}
