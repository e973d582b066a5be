package engine

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
	"github.com/edgecomet/mediacache/pkg/types"
)

// ChromeStill renders stills by loading the bundle's player page in headless
// Chrome and capturing a screenshot. The browser starts on first use and each
// render gets its own tab.
type ChromeStill struct {
	cfg    configtypes.ChromeConfig
	logger *zap.Logger

	mu              sync.Mutex
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
}

func NewChromeStill(cfg configtypes.ChromeConfig, logger *zap.Logger) *ChromeStill {
	return &ChromeStill{cfg: cfg, logger: logger}
}

func (c *ChromeStill) browser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx != nil && c.browserCtx.Err() == nil {
		return c.browserCtx, nil
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("hide-scrollbars", true),
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	c.allocatorCtx, c.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocatorCtx)

	if err := chromedp.Run(c.browserCtx); err != nil {
		c.browserCancel()
		c.allocatorCancel()
		c.browserCtx = nil
		return nil, fmt.Errorf("%w: failed to start Chrome: %v", ErrRenderEngine, err)
	}

	c.logger.Info("Chrome started for still rendering")
	return c.browserCtx, nil
}

func (c *ChromeStill) RenderStill(ctx context.Context, bundle *Bundle, composition string, props map[string]any, outputPath string, format types.OutputFormat) error {
	target, err := playerURL(bundle.Location(), composition, props)
	if err != nil {
		return err
	}

	browserCtx, err := c.browser()
	if err != nil {
		return err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	waitFor := c.cfg.WaitFor
	if waitFor == "" {
		waitFor = "body"
	}

	var shot []byte
	err = chromedp.Run(tabCtx,
		emulation.SetDeviceMetricsOverride(c.cfg.Width, c.cfg.Height, 1.0, false),
		chromedp.Navigate(target),
		chromedp.WaitReady(waitFor, chromedp.ByQuery),
		chromedp.Sleep(time.Duration(c.cfg.ExtraWait)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			shot, err = page.CaptureScreenshot().
				WithFormat(screenshotFormat(format)).
				WithFromSurface(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: still capture interrupted: %w", ErrRenderEngine, ctxErr)
		}
		return fmt.Errorf("%w: still capture failed: %v", ErrRenderEngine, err)
	}

	if err := os.WriteFile(outputPath, shot, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrRenderEngine, err)
	}
	return requireOutput(outputPath)
}

// RenderVideo is not supported by the Chrome engine
func (c *ChromeStill) RenderVideo(context.Context, *Bundle, string, map[string]any, string, string) error {
	return fmt.Errorf("%w: chrome engine renders stills only", ErrRenderEngine)
}

// Close stops the browser
func (c *ChromeStill) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocatorCancel != nil {
		c.allocatorCancel()
	}
	c.browserCtx = nil
}

func playerURL(location, composition string, props map[string]any) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: invalid bundle location: %v", ErrRenderEngine, err)
	}
	propsArg, err := propsFlag(props)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("composition", composition)
	q.Set("props", propsArg[len("--props="):])
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func screenshotFormat(format types.OutputFormat) page.CaptureScreenshotFormat {
	if format == types.FormatJPEG {
		return page.CaptureScreenshotFormatJpeg
	}
	return page.CaptureScreenshotFormatPng
}
