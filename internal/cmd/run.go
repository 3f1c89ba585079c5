package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gousb"

	"github.com/hwbench/usbperf/internal/bench"
	"github.com/hwbench/usbperf/internal/log"
	"github.com/hwbench/usbperf/internal/usbdev"
	"github.com/hwbench/usbperf/internal/util"
)

// Run benchmarks sustained throughput of a single USB endpoint. It opens
// the device, claims an interface, keeps a queue of asynchronous transfers
// in flight against the endpoint and measures until interrupted.
type Run struct {
	VIDPID  string `name:"vidpid" help:"VID:PID of the device to open, e.g. 16c0:0763. Exclusive with --busaddr." env:"USBPERF_VIDPID"`
	BusAddr string `name:"busaddr" help:"bus:addr of the device to open, e.g. 1:4. Exclusive with --vidpid." env:"USBPERF_BUSADDR"`

	USBConfig int    `name:"usb-config" help:"Configuration number to select" default:"1" env:"USBPERF_USB_CONFIG"`
	Interface int    `help:"Interface number to claim" default:"0" env:"USBPERF_INTERFACE"`
	Alt       int    `help:"Alternate setting of the claimed interface" default:"0" env:"USBPERF_ALT"`
	Endpoint  string `help:"Endpoint address to benchmark, e.g. 0x86. Bit 7 selects the direction." required:"" env:"USBPERF_ENDPOINT"`

	Size     int           `help:"Payload size of a single transfer in bytes" default:"2048" env:"USBPERF_SIZE"`
	Queue    int           `help:"Number of transfers kept in flight" default:"4" env:"USBPERF_QUEUE"`
	Duration time.Duration `help:"Stop after this long; 0 runs until interrupted" default:"0s" env:"USBPERF_DURATION"`
	Interval time.Duration `help:"Period of intermediate rate reports; 0 enables them only on a terminal" default:"0s" env:"USBPERF_INTERVAL"`

	Verify     bool `help:"Compute a BLAKE2b-256 digest of the transferred payload" env:"USBPERF_VERIFY"`
	AutoDetach bool `help:"Detach kernel drivers from the claimed interface" default:"true" negatable:"" env:"USBPERF_AUTO_DETACH"`
	USBDebug   int  `name:"usb-debug" help:"libusb debug level (0..4)" default:"0" env:"USBPERF_USB_DEBUG"`
}

// Run is called by Kong when the run command is executed.
func (r *Run) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.benchmark(ctx, logger, rawLogger, os.Stdout)
}

func (r *Run) benchmark(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger, out io.Writer) error {
	sel, err := r.selector()
	if err != nil {
		return err
	}
	epNum, epDir, err := usbdev.ParseEndpointAddress(r.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid value for --endpoint (%q): %w", r.Endpoint, err)
	}
	if r.Size <= 0 {
		return errors.New("--size must be positive")
	}
	if r.Queue <= 0 {
		return errors.New("--queue must be positive")
	}
	if r.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Duration)
		defer cancel()
	}

	uctx := gousb.NewContext()
	defer func() {
		if err := uctx.Close(); err != nil {
			logger.Warn("closing USB context", "error", err)
		}
	}()
	uctx.Debug(r.USBDebug)

	logger.Info("scanning for device", "selector", sel.String())
	dev, err := usbdev.Open(uctx, sel, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			logger.Warn("releasing device", "error", err)
		}
	}()

	desc := dev.Desc()
	logger.Info("opened device",
		"bus", desc.Bus, "addr", desc.Address,
		"vid", desc.Vendor.String(), "pid", desc.Product.String(),
		"speed", desc.Speed, "description", dev.Describe())

	if r.AutoDetach {
		if err := dev.SetAutoDetach(true); err != nil {
			logger.Warn("auto-detach not available", "error", err)
		}
	}
	if err := dev.Claim(r.USBConfig, r.Interface, r.Alt); err != nil {
		return err
	}

	epDesc, err := dev.FindEndpoint(epNum, epDir)
	if err != nil {
		return err
	}
	logger.Info("benchmarking endpoint",
		"endpoint", epDesc.String(),
		"type", epDesc.TransferType,
		"maxPacketSize", epDesc.MaxPacketSize,
		"transferSize", r.Size, "queued", r.Queue)

	interval := r.Interval
	if interval == 0 && util.IsInteractive(os.Stdout) {
		interval = time.Second
	}
	runner, err := bench.New(bench.Config{
		BufferSize: r.Size,
		Interval:   interval,
		Verify:     r.Verify,
		Logger:     logger,
		Raw:        rawLogger,
		Report:     out,
	})
	if err != nil {
		return err
	}

	var res bench.Result
	switch epDir {
	case gousb.EndpointDirectionIn:
		stream, serr := dev.InStream(ctx, epNum, r.Size, r.Queue)
		if serr != nil {
			return serr
		}
		res, err = runner.Read(ctx, stream)
	default:
		stream, serr := dev.OutStream(ctx, epNum, r.Size, r.Queue)
		if serr != nil {
			return serr
		}
		res, err = runner.Write(ctx, stream, bench.NewPattern())
	}

	// Summary is printed even for runs that died mid-transfer, the partial
	// numbers are still meaningful.
	fmt.Fprintln(out, res.String())
	if res.CPU.User > 0 || res.CPU.System > 0 {
		fmt.Fprintf(out, "cpu time: %s user, %s system\n", res.CPU.User.Round(time.Millisecond), res.CPU.System.Round(time.Millisecond))
	}
	if res.Digest != nil {
		fmt.Fprintf(out, "payload blake2b-256: %x\n", res.Digest)
	}
	if err != nil {
		return fmt.Errorf("benchmark: %w", err)
	}
	return nil
}

func (r *Run) selector() (usbdev.Selector, error) {
	switch {
	case r.VIDPID == "" && r.BusAddr == "":
		return usbdev.Selector{}, errors.New("specify the device through --vidpid or --busaddr")
	case r.VIDPID != "" && r.BusAddr != "":
		return usbdev.Selector{}, errors.New("--vidpid cannot be used together with --busaddr, pick one")
	case r.VIDPID != "":
		sel, err := usbdev.ParseVIDPID(r.VIDPID)
		if err != nil {
			return usbdev.Selector{}, fmt.Errorf("invalid value for --vidpid (%q): %w", r.VIDPID, err)
		}
		return sel, nil
	default:
		sel, err := usbdev.ParseBusAddr(r.BusAddr)
		if err != nil {
			return usbdev.Selector{}, fmt.Errorf("invalid value for --busaddr (%q): %w", r.BusAddr, err)
		}
		return sel, nil
	}
}
