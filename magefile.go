//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var binDir = "bin"

var Default = Build

// Build compiles the API server and the job CLI into bin/.
func Build() error {
	mg.Deps(Swag)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}
	env := map[string]string{"CGO_ENABLED": "0"}
	for _, cmd := range []string{"api", "paymentctl"} {
		out := filepath.Join(binDir, cmd)
		fmt.Println("Building:", out)
		if err := sh.RunWithV(env, "go", "build", "-trimpath", "-o", out, "./cmd/"+cmd); err != nil {
			return err
		}
	}
	return nil
}

// Swag regenerates docs/ from the handler annotations.
func Swag() error {
	if _, err := exec.LookPath("swag"); err != nil {
		fmt.Println("swag not found, keeping docs/ as is. Install with: go install github.com/swaggo/swag/cmd/swag@latest")
		return nil
	}
	return sh.RunV("swag", "init", "-g", "cmd/api/main.go", "-o", "docs", "--parseInternal")
}

func Test() error {
	return sh.RunV("go", "test", "./...", "-count=1")
}

// Integration runs the tests that need Docker for a Postgres container.
func Integration() error {
	return sh.RunV("go", "test", "-tags", "integration", "./...", "-count=1")
}

func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}
