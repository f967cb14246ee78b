package acceptor

import (
	"flag"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/browser-acceptor/bundler"
	"github.com/ethereum-optimism/infra/browser-acceptor/flags"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

func newCliContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags.Flags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(&cli.App{}, set, nil)
}

func TestNewConfig(t *testing.T) {
	workDir := t.TempDir()
	ctx := newCliContext(t,
		"--specs", "spec/echo_spec.js",
		"--workdir", workDir,
		"--server-ready-addr", "",
	)

	cfg, err := NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)

	assert.Equal(t, workDir, cfg.WorkDir)
	assert.Equal(t, []string{"spec/echo_spec.js"}, cfg.Specs)
	assert.Equal(t, bundler.DefaultCommand, cfg.BundlerCmd)
	assert.Equal(t, filepath.Join(workDir, "bin", "spec-bundle"), cfg.BundleDir)
	assert.Equal(t, filepath.Join(workDir, "node_modules", "jasmine-core", "lib", "jasmine-core"), cfg.JasmineDir)
	assert.True(t, filepath.IsAbs(cfg.LogDir))
	assert.Empty(t, cfg.ManifestFile)

	require.Len(t, cfg.Roles, 2)
	assert.Equal(t, types.RoleServer, cfg.Roles[0].Name)
	assert.Equal(t, "github.com/grpc-ecosystem/grpc-gateway/v2/examples/internal/cmd/example-grpc-server", cfg.Roles[0].Module)
	assert.Nil(t, cfg.Roles[0].Ready, "an empty ready address falls back to the settle delay")
	assert.Equal(t, types.RoleGateway, cfg.Roles[1].Name)
	assert.Equal(t, "github.com/grpc-ecosystem/grpc-gateway/v2/examples/internal/cmd/example-gateway-server", cfg.Roles[1].Module)
	assert.Equal(t, []string{"--openapi_dir", "examples/internal/proto/examplepb"}, cfg.Roles[1].Args)
	assert.Equal(t, "localhost:8080", cfg.Roles[1].Ready.Addr)
}

func TestNewConfigBundlerSelection(t *testing.T) {
	cfg, err := NewConfig(newCliContext(t, "--specs", "a.js", "--bundler", "esbuild"), log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)
	assert.Equal(t, bundler.EsbuildCommand, cfg.BundlerCmd)

	cfg, err = NewConfig(newCliContext(t, "--specs", "a.js", "--bundler-cmd", "npx rollup -c -o {output}"), log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)
	assert.Equal(t, "npx rollup -c -o {output}", cfg.BundlerCmd, "an explicit command wins over the preset")
}

func TestNewConfigErrors(t *testing.T) {
	_, err := NewConfig(newCliContext(t), log.NewLogger(log.DiscardHandler()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required flags")

	_, err = NewConfig(newCliContext(t, "--specs", "a.js", "--timeout", "0s"), log.NewLogger(log.DiscardHandler()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout must be positive")
}

func TestNewConfigManifestPathIsAbsolute(t *testing.T) {
	cfg, err := NewConfig(newCliContext(t, "--manifest", "browser-acceptor.yaml"), log.NewLogger(log.DiscardHandler()))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.ManifestFile))
	assert.Equal(t, "browser-acceptor.yaml", filepath.Base(cfg.ManifestFile))
}
