package flags

import (
	"flag"
	"strings"
	"testing"
	"time"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/browser-acceptor/bundler"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

// TestBetaFlags test that all flags starting with "beta." have "BETA_" in the env var, and vice versa.
func TestBetaFlags(t *testing.T) {
	for _, flag := range Flags {
		envFlag, ok := flag.(interface {
			GetEnvVars() []string
		})
		if !ok || len(envFlag.GetEnvVars()) == 0 { // skip flags without env-var support
			continue
		}
		name := flag.Names()[0]
		envName := envFlag.GetEnvVars()[0]
		if strings.HasPrefix(name, "beta.") {
			require.Contains(t, envName, "BETA_", "%q flag must contain BETA in env var to match \"beta.\" flag name", name)
		}
		if strings.Contains(envName, "BETA_") {
			require.True(t, strings.HasPrefix(name, "beta."), "%q flag must start with \"beta.\" in flag name to match \"BETA_\" env var", name)
		}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")

			expectedEnvVar := opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix)
			require.Equal(t, expectedEnvVar, envFlags[0])
		})
	}
}

func TestBundlerPreset(t *testing.T) {
	t.Run("type methods", func(t *testing.T) {
		assert.Equal(t, "webpack", BundlerWebpack.String())
		assert.True(t, BundlerWebpack.IsValid())
		assert.True(t, BundlerEsbuild.IsValid())
		assert.False(t, BundlerPreset("rollup").IsValid())
		assert.False(t, BundlerPreset("").IsValid())

		assert.Equal(t, bundler.DefaultCommand, BundlerWebpack.Command())
		assert.Equal(t, bundler.EsbuildCommand, BundlerEsbuild.Command())
		assert.Len(t, ValidBundlerPresets(), 2)
	})

	t.Run("validation function", func(t *testing.T) {
		assert.NoError(t, validateBundlerPreset("webpack"))
		assert.NoError(t, validateBundlerPreset("esbuild"))
		for _, invalid := range []string{"rollup", "", "Webpack"} {
			err := validateBundlerPreset(invalid)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "bundler must be one of")
		}
	})

	t.Run("CLI flag validation", func(t *testing.T) {
		app := &cli.App{
			Flags:  []cli.Flag{BundlerPresetFlag},
			Action: func(ctx *cli.Context) error { return nil },
		}
		testCases := []struct {
			name        string
			args        []string
			shouldError bool
		}{
			{"valid webpack", []string{"app", "--bundler", "webpack"}, false},
			{"valid esbuild", []string{"app", "--bundler", "esbuild"}, false},
			{"invalid value", []string{"app", "--bundler", "rollup"}, true},
			{"no flag uses default", []string{"app"}, false},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				err := app.Run(tc.args)
				if tc.shouldError {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			})
		}
	})
}

func TestDefaults(t *testing.T) {
	app := &cli.App{
		Flags: Flags,
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, 120*time.Second, ctx.Duration(Timeout.Name))
			assert.Equal(t, "localhost:8000", ctx.String(HostAddr.Name))
			assert.Equal(t, "localhost:9090", ctx.String(ServerReadyAddr.Name))
			assert.Equal(t, "localhost:8080", ctx.String(GatewayReadyAddr.Name))
			assert.True(t, ctx.Bool(Headless.Name))
			assert.Empty(t, ctx.String(HealthzAddr.Name))
			assert.Equal(t, "github.com/grpc-ecosystem/grpc-gateway/v2/examples/internal/cmd/example-grpc-server", ctx.String(ServerModule.Name))
			assert.Equal(t, "github.com/grpc-ecosystem/grpc-gateway/v2/examples/internal/cmd/example-gateway-server", ctx.String(GatewayModule.Name))
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"app"}))
}

func TestCheckRequired(t *testing.T) {
	newCtx := func(t *testing.T, args ...string) *cli.Context {
		set := flag.NewFlagSet("test", flag.ContinueOnError)
		for _, f := range []cli.Flag{Specs, Manifest} {
			require.NoError(t, f.Apply(set))
		}
		require.NoError(t, set.Parse(args))
		return cli.NewContext(&cli.App{}, set, nil)
	}

	require.Error(t, CheckRequired(newCtx(t)))
	require.NoError(t, CheckRequired(newCtx(t, "--specs", "spec/echo_spec.js")))
	require.NoError(t, CheckRequired(newCtx(t, "--manifest", "browser-acceptor.yaml")))
}
