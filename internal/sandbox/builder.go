package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Builder compiles a script source file into an artifact a Loader can open.
type Builder interface {
	Build(ctx context.Context, file string, source []byte) (artifact string, err error)
}

// GoPluginBuilder compiles scripts with `go build -buildmode=plugin`.
//
// Artifacts are named after the source file and a digest of its content. A
// process can open a plugin path only once, so an edited script must land at
// a new path to be picked up.
type GoPluginBuilder struct {
	GoBin   string
	DistDir string
	Env     []string
}

// Build compiles file into DistDir, reusing an existing artifact for the same
// content.
func (b GoPluginBuilder) Build(ctx context.Context, file string, source []byte) (string, error) {
	goBin := b.GoBin
	if goBin == "" {
		goBin = "go"
	}
	dist := b.DistDir
	if dist == "" {
		dist = filepath.Join(filepath.Dir(file), "dist")
	}
	if err := os.MkdirAll(dist, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dist dir: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	artifact, err := filepath.Abs(filepath.Join(dist, name+"-"+digest(source)+".so"))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(artifact); err == nil {
		return artifact, nil
	}

	cmd := exec.CommandContext(ctx, goBin, "build", "-buildmode=plugin", "-o", artifact, filepath.Base(file))
	cmd.Dir = filepath.Dir(file)
	cmd.Env = append(os.Environ(), b.Env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to build %s: %w: %s", file, err, strings.TrimSpace(stderr.String()))
	}
	return artifact, nil
}

func digest(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:6])
}
