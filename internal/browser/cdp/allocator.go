// internal/browser/cdp/allocator.go
package cdp

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/pageharness/internal/browser"
)

// execOptions translates browser options into Chrome launch flags. Extra args
// may be written with or without the leading "--" and as bare switches or
// key=value pairs.
func execOptions(opts browser.Options) []chromedp.ExecAllocatorOption {
	execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	execOpts = append(execOpts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	// DefaultExecAllocatorOptions launches headless; honour an explicit opt-out.
	if opts.Headless {
		execOpts = append(execOpts, chromedp.Headless)
	} else {
		execOpts = append(execOpts, chromedp.Flag("headless", false))
	}

	if opts.IgnoreTLSErrors {
		execOpts = append(execOpts, chromedp.Flag("ignore-certificate-errors", true))
	}

	if opts.Device != nil {
		if opts.Device.UserAgent != "" {
			execOpts = append(execOpts, chromedp.UserAgent(opts.Device.UserAgent))
		}
		if opts.Device.Width > 0 && opts.Device.Height > 0 {
			execOpts = append(execOpts, chromedp.WindowSize(int(opts.Device.Width), int(opts.Device.Height)))
		}
	}

	for _, arg := range opts.Args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		key, value, hasValue := strings.Cut(arg, "=")
		if !hasValue {
			execOpts = append(execOpts, chromedp.Flag(key, true))
			continue
		}
		execOpts = append(execOpts, chromedp.Flag(key, value))
	}
	return execOpts
}

// emulationTasks applies the device profile to the tab. A nil profile yields
// no tasks.
func emulationTasks(device *browser.DeviceProfile) chromedp.Tasks {
	if device == nil {
		return nil
	}
	var tasks chromedp.Tasks
	if device.Width > 0 && device.Height > 0 {
		ratio := device.PixelRatio
		if ratio <= 0 {
			ratio = 1
		}
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(device.Width, device.Height, ratio, device.Mobile))
	}
	if device.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(device.UserAgent))
	}
	if device.Mobile {
		tasks = append(tasks, emulation.SetTouchEmulationEnabled(true))
	}
	return tasks
}

// combineContext returns a context carrying the values and lifetime of
// sessionCtx that is also cancelled when opCtx is done. chromedp needs the
// session context's values to find the target, while the deadline belongs to
// the operation.
func combineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(sessionCtx)
	stop := context.AfterFunc(opCtx, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
