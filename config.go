package acceptor

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/browser-acceptor/flags"
	"github.com/ethereum-optimism/infra/browser-acceptor/types"
)

// Config holds the application configuration
type Config struct {
	WorkDir          string             // Directory builds run in; relative paths resolve against it
	ManifestFile     string             // Optional YAML manifest overriding Roles and Specs
	Roles            []types.RoleConfig // Roles derived from flags
	Specs            []string           // Spec files or patterns, in bundle order
	GoBinary         string             // Go binary used to build the roles
	BundlerCmd       string             // Bundler command line
	BundleDir        string             // Directory receiving the bundle artifact
	JasmineDir       string             // Directory holding the jasmine sources
	HostAddr         string             // Address the harness is served on
	Timeout          time.Duration      // Upper bound for the browser run
	SettleDelay      time.Duration      // Wait for roles without a readiness probe
	ReadyTimeout     time.Duration      // Upper bound for readiness polling
	StopGracePeriod  time.Duration      // SIGTERM to SIGKILL interval
	SkipBuild        bool               // Reuse existing binaries
	Headless         bool               // Run the browser without a window
	BrowserBin       string             // Explicit Chromium binary
	NoSandbox        bool               // Disable the Chromium sandbox
	LogDir           string             // Directory to store run logs
	ProgressInterval time.Duration      // Interval between progress updates
	Log              log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	workDir, err := filepath.Abs(ctx.String(flags.WorkDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for workdir '%s': %w", ctx.String(flags.WorkDir.Name), err)
	}

	var manifest string
	if m := ctx.String(flags.Manifest.Name); m != "" {
		manifest, err = filepath.Abs(m)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for manifest '%s': %w", m, err)
		}
	}

	// Get log directory, default to "logs" if not specified
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	preset := flags.BundlerPreset(ctx.String(flags.BundlerPresetFlag.Name))
	// Validated by the flag action already, checked again for programmatic callers
	if !preset.IsValid() {
		return nil, fmt.Errorf("invalid bundler preset: %s", preset)
	}
	bundlerCmd := ctx.String(flags.BundlerCmd.Name)
	if bundlerCmd == "" {
		bundlerCmd = preset.Command()
	}

	timeout := ctx.Duration(flags.Timeout.Name)
	if timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}

	return &Config{
		WorkDir:      workDir,
		ManifestFile: manifest,
		Roles: DefaultRoles(RoleFlags{
			ServerModule:     ctx.String(flags.ServerModule.Name),
			GatewayModule:    ctx.String(flags.GatewayModule.Name),
			ServerBinary:     ctx.String(flags.ServerBinary.Name),
			GatewayBinary:    ctx.String(flags.GatewayBinary.Name),
			ServerReadyAddr:  ctx.String(flags.ServerReadyAddr.Name),
			GatewayReadyAddr: ctx.String(flags.GatewayReadyAddr.Name),
			OpenAPIDir:       ctx.String(flags.OpenAPIDir.Name),
		}),
		Specs:            ctx.StringSlice(flags.Specs.Name),
		GoBinary:         ctx.String(flags.GoBinary.Name),
		BundlerCmd:       bundlerCmd,
		BundleDir:        resolvePath(workDir, ctx.String(flags.BundleDir.Name)),
		JasmineDir:       resolvePath(workDir, ctx.String(flags.JasmineDir.Name)),
		HostAddr:         ctx.String(flags.HostAddr.Name),
		Timeout:          timeout,
		SettleDelay:      ctx.Duration(flags.SettleDelay.Name),
		ReadyTimeout:     ctx.Duration(flags.ReadyTimeout.Name),
		StopGracePeriod:  ctx.Duration(flags.StopGracePeriod.Name),
		SkipBuild:        ctx.Bool(flags.SkipBuild.Name),
		Headless:         ctx.Bool(flags.Headless.Name),
		BrowserBin:       ctx.String(flags.BrowserBin.Name),
		NoSandbox:        ctx.Bool(flags.NoSandbox.Name),
		LogDir:           logDir,
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		Log:              log,
	}, nil
}

// RoleFlags are the per-role settings taken from the command line
type RoleFlags struct {
	ServerModule     string
	GatewayModule    string
	ServerBinary     string
	GatewayBinary    string
	ServerReadyAddr  string
	GatewayReadyAddr string
	OpenAPIDir       string
}

// DefaultRoles builds the server and gateway roles from flags. The gateway
// is always given --openapi_dir.
func DefaultRoles(f RoleFlags) []types.RoleConfig {
	server := types.RoleConfig{
		Name:   types.RoleServer,
		Module: f.ServerModule,
		Binary: f.ServerBinary,
	}
	if f.ServerReadyAddr != "" {
		server.Ready = &types.ProbeConfig{Addr: f.ServerReadyAddr}
	}

	gateway := types.RoleConfig{
		Name:   types.RoleGateway,
		Module: f.GatewayModule,
		Binary: f.GatewayBinary,
		Args:   []string{"--openapi_dir", f.OpenAPIDir},
	}
	if f.GatewayReadyAddr != "" {
		gateway.Ready = &types.ProbeConfig{Addr: f.GatewayReadyAddr}
	}
	return []types.RoleConfig{server, gateway}
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
