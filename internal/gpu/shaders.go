package gpu

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gogpu/naga"

	"github.com/gogpu/mesh3d/rf"
)

// Shader file names inside a shader FS.
const (
	ShaderFSPL    = "viewshed_fspl.wgsl"
	ShaderITM     = "itm.wgsl"
	ShaderFresnel = "fresnel.wgsl"
	ShaderMerge   = "merge.wgsl"
)

// ErrShaderMissing is returned when a shader file is absent or empty.
var ErrShaderMissing = errors.New("gpu: shader missing")

//go:embed shaders/*.wgsl
var embedded embed.FS

// Shaders returns the embedded shader set.
func Shaders() fs.FS {
	sub, err := fs.Sub(embedded, "shaders")
	if err != nil {
		panic(err) // the directory is embedded
	}
	return sub
}

// ShaderDir returns a shader set read from dir, for iterating on kernels
// without rebuilding.
func ShaderDir(dir string) fs.FS { return os.DirFS(dir) }

// ModelShader returns the shader file implementing m.
func ModelShader(m rf.PropagationModel) string {
	switch m {
	case rf.ModelITM:
		return ShaderITM
	case rf.ModelFresnel:
		return ShaderFresnel
	default:
		return ShaderFSPL
	}
}

// LoadShader reads name from fsys. The source is run through naga; a
// naga failure is logged but does not reject the shader, since the
// device compiler has the final say.
func LoadShader(fsys fs.FS, name string) (string, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrShaderMissing, name, err)
	}
	if len(b) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrShaderMissing, name)
	}
	src := string(b)
	if _, err := naga.Compile(src); err != nil {
		slogger().Debug("gpu: naga rejected shader", "shader", name, "err", err)
	}
	return src, nil
}
