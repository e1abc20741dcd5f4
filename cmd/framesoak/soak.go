package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/forge/display"
	"github.com/vkngwrapper/forge/driver"
	"github.com/vkngwrapper/forge/graphics"
	"golang.org/x/sync/errgroup"
)

// recorder owns one buffer and refreshes it from upload memory once per frame. Even recorders record
// on the graphics queue and leave the buffer readable by shaders; odd recorders record on the compute
// queue and leave it in unordered access.
type recorder struct {
	index  int
	buffer graphics.GpuBuffer
	// targets is only set on the first recorder
	targets *frameTargets
}

// frameTargets are cycled between their write and read states once per frame, the way a pass
// renders into them and a later pass samples them
type frameTargets struct {
	color *graphics.ColorBuffer
	depth *graphics.DepthBuffer
}

func createTargets(device *graphics.Device, width, height uint32) (*frameTargets, error) {
	targets := &frameTargets{
		color: graphics.NewColorBuffer([4]float32{0, 0, 0, 1}),
		depth: graphics.NewDepthBuffer(1, 0),
	}

	err := targets.color.Create(device, "Soak Color", width, height, 1, driver.FormatR8G8B8A8Unorm)
	if err != nil {
		return nil, err
	}
	err = targets.depth.Create(device, "Soak Depth", width, height, driver.FormatD32Float)
	if err != nil {
		targets.color.Destroy()
		return nil, err
	}
	return targets, nil
}

func (t *frameTargets) record(ctx *graphics.CommandContext) {
	ctx.TransitionResource(t.color, driver.ResourceStateRenderTarget, false)
	ctx.TransitionResource(t.depth, driver.ResourceStateDepthWrite, true)

	ctx.TransitionResource(t.color, driver.ResourceStatePixelShaderResource, false)
	ctx.TransitionResource(t.depth, driver.ResourceStateDepthRead, false)
}

func (t *frameTargets) destroy() {
	t.color.Destroy()
	t.depth.Destroy()
}

func (r *recorder) compute() bool {
	return r.index%2 == 1
}

func (r *recorder) recordFrame(device *graphics.Device, frame int, uploadBytes uint64) error {
	label := fmt.Sprintf("Soak %d/%d", frame, r.index)

	var ctx *graphics.CommandContext
	var err error
	if r.compute() {
		ctx, err = device.BeginCompute(label)
	} else {
		ctx, err = device.Begin(label)
	}
	if err != nil {
		return err
	}

	upload, err := ctx.ReserveUploadMemory(uploadBytes)
	if err != nil {
		_, _ = ctx.Finish(false)
		return errors.Wrapf(err, "recorder %d frame %d", r.index, frame)
	}
	for i := range upload.Data {
		upload.Data[i] = byte(frame + r.index + i)
	}

	if r.targets != nil {
		r.targets.record(ctx)
	}

	ctx.CopyFromUpload(&r.buffer, 0, upload)
	if r.compute() {
		ctx.TransitionResource(&r.buffer, driver.ResourceStateUnorderedAccess, false)
		ctx.InsertUAVBarrier(&r.buffer, true)
	} else {
		ctx.BeginResourceTransition(&r.buffer, driver.ResourceStateGenericRead, false)
		ctx.TransitionResource(&r.buffer, driver.ResourceStateGenericRead, true)
	}

	_, err = ctx.Finish(false)
	return err
}

// soakResult summarizes a finished soak
type soakResult struct {
	Frames   int
	Contexts int
	Elapsed  time.Duration
	Stats    string
}

// runSoak records cfg.Frames frames of cfg.Recorders concurrent contexts on device, presenting through
// swapChain after each frame when it is present
func runSoak(ctx context.Context, logger *slog.Logger, cfg *Config, drv driver.Device, swapChain driver.SwapChain) (soakResult, error) {
	device, err := graphics.New(logger, drv, cfg.createOptions())
	if err != nil {
		return soakResult{}, err
	}
	defer device.Destroy()

	var screen *display.Display
	if swapChain != nil {
		screen, err = display.New(logger, device, swapChain, display.Options{
			MaxFramesInFlight: cfg.Display.MaxFramesInFlight,
		})
		if err != nil {
			return soakResult{}, err
		}
		defer func() {
			shutdownErr := screen.Shutdown()
			if shutdownErr != nil {
				logger.Warn("display shutdown failed", slog.Any("Error", shutdownErr))
			}
		}()
	}

	recorders := make([]*recorder, cfg.Recorders)
	for i := range recorders {
		recorders[i] = &recorder{index: i}
		err = recorders[i].buffer.Create(device, fmt.Sprintf("Soak Buffer %d", i), cfg.BufferBytes/4, 4, nil)
		if err != nil {
			return soakResult{}, err
		}
	}
	defer func() {
		for _, r := range recorders {
			r.buffer.Destroy()
		}
	}()

	// Render targets match the display size even when nothing is presented
	recorders[0].targets, err = createTargets(device, cfg.Display.Width, cfg.Display.Height)
	if err != nil {
		return soakResult{}, err
	}
	defer recorders[0].targets.destroy()

	start := time.Now()
	frame := 0
	for ; frame < cfg.Frames; frame++ {
		if ctx.Err() != nil {
			logger.Info("soak interrupted", slog.Int("Frame", frame))
			break
		}

		group := errgroup.Group{}
		for _, r := range recorders {
			group.Go(func() error {
				return r.recordFrame(device, frame, cfg.UploadBytes)
			})
		}
		err = group.Wait()
		if err != nil {
			return soakResult{}, errors.Wrapf(err, "frame %d", frame)
		}

		if screen != nil {
			err = screen.Present()
			if err != nil {
				return soakResult{}, err
			}
		}

		logger.Debug("frame complete", slog.Int("Frame", frame))
	}

	err = device.IdleGPU()
	if err != nil {
		return soakResult{}, err
	}

	return soakResult{
		Frames:   frame,
		Contexts: device.Contexts().ContextCount(driver.CommandListDirect) + device.Contexts().ContextCount(driver.CommandListCompute),
		Elapsed:  time.Since(start),
		Stats:    device.BuildStatsString(true),
	}, nil
}

func (r soakResult) write(out io.Writer) error {
	_, err := fmt.Fprintf(out, "%d frames in %s using %d contexts\n%s\n", r.Frames, r.Elapsed.Round(time.Millisecond), r.Contexts, r.Stats)
	return err
}
