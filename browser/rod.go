package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/hashicorp/go-multierror"
)

// RodLauncher launches Chromium through the DevTools protocol
type RodLauncher struct {
	Log       log.Logger
	Bin       string // Browser executable; empty lets rod find or download one
	Headless  bool
	NoSandbox bool
}

// Launch starts a browser process, connects to it and opens a blank page in
// an incognito context
func (l *RodLauncher) Launch(ctx context.Context) (Page, error) {
	lch := launcher.New().Context(ctx).Headless(l.Headless)
	if l.Bin != "" {
		lch = lch.Bin(l.Bin)
	}
	if l.NoSandbox {
		lch = lch.NoSandbox(true)
	}

	controlURL, err := lch.Launch()
	if err != nil {
		lch.Kill()
		removeUserDataDir(lch)
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	if l.Log != nil {
		l.Log.Debug("Browser launched", "pid", lch.PID(), "control_url", controlURL)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		lch.Kill()
		lch.Cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	incognito, err := browser.Incognito()
	if err != nil {
		_ = browser.Close()
		lch.Kill()
		lch.Cleanup()
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		lch.Kill()
		lch.Cleanup()
		return nil, fmt.Errorf("create page: %w", err)
	}

	obsCtx, cancel := context.WithCancel(context.Background())
	return &rodPage{
		launcher:  lch,
		browser:   browser,
		page:      page,
		obsCtx:    obsCtx,
		obsCancel: cancel,
	}, nil
}

// removeUserDataDir deletes the profile of a browser that failed to launch.
// Cleanup cannot be used there since it waits for an exit that may never be
// signalled.
func removeUserDataDir(lch *launcher.Launcher) {
	if dir := lch.Get(flags.UserDataDir); dir != "" {
		_ = os.RemoveAll(dir)
	}
}

type rodPage struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	obsCtx    context.Context
	obsCancel context.CancelFunc
	obsDone   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (p *rodPage) Observe(obs Observers) error {
	// EachEvent subscribes synchronously; only the dispatch loop runs in the goroutine
	wait := p.page.Context(p.obsCtx).EachEvent(
		func(ev *proto.RuntimeConsoleAPICalled) {
			if obs.Console != nil {
				obs.Console(ConsoleMessage{Level: string(ev.Type), Text: stringifyConsoleArgs(ev.Args)})
			}
		},
		func(ev *proto.RuntimeExceptionThrown) {
			if obs.PageError != nil {
				obs.PageError(describeException(ev.ExceptionDetails))
			}
		},
	)
	p.obsDone = make(chan struct{})
	go func() {
		defer close(p.obsDone)
		wait()
	}()
	return nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	return p.page.Context(ctx).Navigate(url)
}

func (p *rodPage) WaitForFlag(ctx context.Context, name string) error {
	return p.page.Context(ctx).Wait(rod.Eval(fmt.Sprintf(`() => window[%q] !== undefined`, name)))
}

func (p *rodPage) ReadFlag(ctx context.Context, name string) ([]byte, error) {
	res, err := p.page.Context(ctx).Eval(fmt.Sprintf(`() => JSON.stringify(window[%q])`, name))
	if err != nil {
		return nil, err
	}
	return []byte(res.Value.Str()), nil
}

// Close tears down the page, the browser connection and the browser process.
// The process is killed even if the protocol calls fail.
func (p *rodPage) Close() error {
	p.closeOnce.Do(func() {
		var result *multierror.Error
		p.obsCancel()
		if err := p.page.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close page: %w", err))
		}
		if err := p.browser.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close browser: %w", err))
		}
		p.launcher.Kill()
		p.launcher.Cleanup()
		if p.obsDone != nil {
			<-p.obsDone
		}
		p.closeErr = result.ErrorOrNil()
	})
	return p.closeErr
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

func describeException(details *proto.RuntimeExceptionDetails) string {
	if details == nil {
		return "unknown exception"
	}
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}
