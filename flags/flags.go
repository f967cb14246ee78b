package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/browser-acceptor/bundler"
)

const EnvVarPrefix = "BROWSER_ACCEPTOR"

// BundlerPreset selects the default bundler command line
type BundlerPreset string

const (
	BundlerWebpack BundlerPreset = "webpack"
	BundlerEsbuild BundlerPreset = "esbuild"
)

// String returns the string representation of the preset
func (b BundlerPreset) String() string {
	return string(b)
}

// IsValid checks if the preset is known
func (b BundlerPreset) IsValid() bool {
	switch b {
	case BundlerWebpack, BundlerEsbuild:
		return true
	default:
		return false
	}
}

// Command returns the bundler command line for the preset
func (b BundlerPreset) Command() string {
	switch b {
	case BundlerEsbuild:
		return bundler.EsbuildCommand
	default:
		return bundler.DefaultCommand
	}
}

// ValidBundlerPresets returns all valid presets
func ValidBundlerPresets() []BundlerPreset {
	return []BundlerPreset{BundlerWebpack, BundlerEsbuild}
}

func validateBundlerPreset(value string) error {
	if !BundlerPreset(value).IsValid() {
		valid := make([]string, 0, len(ValidBundlerPresets()))
		for _, p := range ValidBundlerPresets() {
			valid = append(valid, p.String())
		}
		return fmt.Errorf("bundler must be one of: %s", strings.Join(valid, ", "))
	}
	return nil
}

var (
	Manifest = &cli.StringFlag{
		Name:    "manifest",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MANIFEST"),
		Usage:   "Path to a YAML manifest of roles and spec files (eg. 'browser-acceptor.yaml'). Overrides the role and spec flags.",
	}
	Specs = &cli.StringSliceFlag{
		Name:    "specs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SPECS"),
		Usage:   "Spec source files or glob patterns, in bundle order",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKDIR"),
		Usage:   "Directory builds run in and relative paths resolve against",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary used to build the server and gateway",
	}
	ServerModule = &cli.StringFlag{
		Name:    "server-module",
		Value:   "github.com/grpc-ecosystem/grpc-gateway/v2/examples/internal/cmd/example-grpc-server",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVER_MODULE"),
		Usage:   "Go package of the backend server",
	}
	GatewayModule = &cli.StringFlag{
		Name:    "gateway-module",
		Value:   "github.com/grpc-ecosystem/grpc-gateway/v2/examples/internal/cmd/example-gateway-server",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_MODULE"),
		Usage:   "Go package of the HTTP gateway",
	}
	ServerBinary = &cli.StringFlag{
		Name:    "server-binary",
		Value:   "bin/example-server",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVER_BINARY"),
		Usage:   "Output path of the server binary",
	}
	GatewayBinary = &cli.StringFlag{
		Name:    "gateway-binary",
		Value:   "bin/example-gw",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_BINARY"),
		Usage:   "Output path of the gateway binary",
	}
	ServerReadyAddr = &cli.StringFlag{
		Name:    "server-ready-addr",
		Value:   "localhost:9090",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVER_READY_ADDR"),
		Usage:   "TCP address polled until the server accepts connections. Empty falls back to the settle delay.",
	}
	GatewayReadyAddr = &cli.StringFlag{
		Name:    "gateway-ready-addr",
		Value:   "localhost:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GATEWAY_READY_ADDR"),
		Usage:   "TCP address polled until the gateway accepts connections. Empty falls back to the settle delay.",
	}
	OpenAPIDir = &cli.StringFlag{
		Name:    "openapi-dir",
		Value:   "examples/internal/proto/examplepb",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OPENAPI_DIR"),
		Usage:   "Directory passed to the gateway as --openapi_dir",
	}
	BundlerPresetFlag = &cli.StringFlag{
		Name:    "bundler",
		Value:   string(BundlerWebpack),
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUNDLER"),
		Usage:   "Bundler preset used when --bundler-cmd is not set (webpack, esbuild)",
		Action: func(ctx *cli.Context, value string) error {
			return validateBundlerPreset(value)
		},
	}
	BundlerCmd = &cli.StringFlag{
		Name:    "bundler-cmd",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUNDLER_CMD"),
		Usage:   "Bundler command line. {output}, {outdir} and {entries} are substituted; entries are appended when {entries} is absent.",
	}
	BundleDir = &cli.StringFlag{
		Name:    "bundle-dir",
		Value:   "bin/spec-bundle",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUNDLE_DIR"),
		Usage:   "Directory the bundle artifact is written to",
	}
	JasmineDir = &cli.StringFlag{
		Name:    "jasmine-dir",
		Value:   "node_modules/jasmine-core/lib/jasmine-core",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JASMINE_DIR"),
		Usage:   "Directory containing jasmine.js, jasmine-html.js and jasmine.css",
	}
	HostAddr = &cli.StringFlag{
		Name:    "host-addr",
		Value:   "localhost:8000",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HOST_ADDR"),
		Usage:   "Address the test host serves the harness on",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   120 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "How long to wait for the browser tests to complete",
	}
	SettleDelay = &cli.DurationFlag{
		Name:    "settle-delay",
		Value:   time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTLE_DELAY"),
		Usage:   "Fixed wait after starting a role that has no readiness probe",
	}
	ReadyTimeout = &cli.DurationFlag{
		Name:    "ready-timeout",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "READY_TIMEOUT"),
		Usage:   "Upper bound for polling a role's readiness probe",
	}
	StopGracePeriod = &cli.DurationFlag{
		Name:    "stop-grace-period",
		Value:   5 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STOP_GRACE_PERIOD"),
		Usage:   "Time between SIGTERM and SIGKILL when stopping a role",
	}
	SkipBuild = &cli.BoolFlag{
		Name:    "skip-build",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SKIP_BUILD"),
		Usage:   "Reuse existing server and gateway binaries instead of building them",
	}
	Headless = &cli.BoolFlag{
		Name:    "headless",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEADLESS"),
		Usage:   "Run the browser without a window",
	}
	BrowserBin = &cli.StringFlag{
		Name:    "browser-bin",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BROWSER_BIN"),
		Usage:   "Path to a Chromium binary. Empty lets the launcher find or download one.",
	}
	NoSandbox = &cli.BoolFlag{
		Name:    "no-sandbox",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NO_SANDBOX"),
		Usage:   "Disable the Chromium sandbox (needed when running as root in containers)",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to store per-run logs and reports",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz-addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Address to serve /healthz on. Empty disables it.",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress log lines while a phase is running",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Manifest,
	Specs,
	WorkDir,
	GoBinary,
	ServerModule,
	GatewayModule,
	ServerBinary,
	GatewayBinary,
	ServerReadyAddr,
	GatewayReadyAddr,
	OpenAPIDir,
	BundlerPresetFlag,
	BundlerCmd,
	BundleDir,
	JasmineDir,
	HostAddr,
	Timeout,
	SettleDelay,
	ReadyTimeout,
	StopGracePeriod,
	SkipBuild,
	Headless,
	BrowserBin,
	NoSandbox,
	LogDir,
	HealthzAddr,
	ProgressInterval,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	if !ctx.IsSet(Specs.Name) && !ctx.IsSet(Manifest.Name) {
		return fmt.Errorf("either --%s or --%s is required", Specs.Name, Manifest.Name)
	}
	return opflags.CheckRequiredXor(ctx)
}
