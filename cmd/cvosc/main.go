package main

/*------------------------------------------------------------------
 *
 * Purpose:   	Main program for the CV/OSC bridge:
 *
 *			Multi-channel CV-to-OSC mixer engine.
 *			Audio input/output/duplex streams via PortAudio.
 *			Per-channel calibration, filtering, and classification.
 *			OSC send/receive over UDP unicast/multicast and TCP.
 *			DNS-SD announcement of the OSC input port.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/pflag"

	"github.com/cvosc/engine/internal/audiostream"
	"github.com/cvosc/engine/internal/calibrate"
	"github.com/cvosc/engine/internal/classify"
	"github.com/cvosc/engine/internal/config"
	"github.com/cvosc/engine/internal/discovery"
	"github.com/cvosc/engine/internal/filter"
	"github.com/cvosc/engine/internal/format"
	"github.com/cvosc/engine/internal/mixer"
	"github.com/cvosc/engine/internal/telemetry"
)

const version = "2.0.0"

// channelCount is the number of mixer channels; inbound routing
// addresses recognise /channel/N etc. with N in [1,8].
const channelCount = 8

func main() {
	var showVersion = pflag.BoolP("version", "v", false, "Print version and exit.")
	var interactive = pflag.BoolP("interactive", "i", false, "Interactive command prompt.")
	var listDevices = pflag.BoolP("list-devices", "l", false, "List host audio devices and exit.")
	var daemon = pflag.BoolP("daemon", "d", false, "Run without a prompt until interrupted.")
	var configFile = pflag.StringP("config", "c", "cvosc.json", "Configuration file name (.yaml/.yml for YAML).")
	var verbose = pflag.Bool("verbose", false, "Verbose output (same as --log-level debug).")
	var quiet = pflag.BoolP("quiet", "q", false, "Suppress output below errors.")
	var oscHost = pflag.String("osc-host", "", "Override the active profile's OSC target host.")
	var oscPort = pflag.String("osc-port", "", "Override the active profile's OSC target port.")
	var audioDevice = pflag.String("audio-device", "", "Override the active profile's audio device name.")
	var updateInterval = pflag.Int("update-interval", 0, "Override the engine update interval in milliseconds.")
	var logLevel = pflag.String("log-level", "", "Log level: debug|info|warn|error.")
	var logFilePattern = pflag.String("log-file", "", "Log file name with optional strftime specifiers, e.g. cvosc-%Y%m%d.log.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - CV-to-OSC bridge for modular synthesizers.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: cvosc [options]\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(1)
	}
	if *showVersion {
		fmt.Printf("cvosc %s\n", version)
		os.Exit(0)
	}

	if *listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "cvosc: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logFile, err := telemetry.OpenLogFile(*logFilePattern)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cvosc: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	handler := telemetry.New(logFile)
	switch {
	case *quiet:
		handler.SetLevel("error")
	case *verbose:
		handler.SetLevel("debug")
	case *logLevel != "":
		handler.SetLevel(*logLevel)
	}

	profile, err := loadProfile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cvosc: %v\n", err)
		os.Exit(1)
	}
	if *oscHost != "" {
		profile.OSCHost = *oscHost
	}
	if *oscPort != "" {
		profile.OSCPort = *oscPort
	}
	if *audioDevice != "" {
		profile.AudioDevice = *audioDevice
	}
	if *updateInterval > 0 {
		profile.UpdateIntervalMS = *updateInterval
	}

	if err := portaudio.Initialize(); err != nil {
		handler.Errorf(telemetry.Audio, false, "portaudio init: %v", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	if err := run(handler, profile, *configFile, *interactive, *daemon); err != nil {
		handler.Errorf(telemetry.System, false, "%v", err)
		os.Exit(1)
	}
}

// loadProfile reads the profile document at path (YAML for .yaml/.yml,
// JSON otherwise), writes defaults when the file is missing, and returns
// the active profile.
func loadProfile(path string) (config.Profile, error) {
	var doc config.ProfileDocument
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		doc, err = config.LoadProfileDocumentYAML(path)
	default:
		doc, err = config.LoadProfileDocument(path)
	}
	if err != nil {
		return config.Profile{}, err
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if saveErr := doc.Save(path); saveErr != nil {
			return config.Profile{}, saveErr
		}
	}
	return doc.Active(), nil
}

func printDevices() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}
	for i, dev := range devices {
		fmt.Printf("%3d: %s (in:%d out:%d @ %.0f Hz)\n",
			i, dev.Name, dev.MaxInputChannels, dev.MaxOutputChannels, dev.DefaultSampleRate)
	}
	return nil
}

// resolveAudioDevice finds the host index of the device whose name
// contains name (case-insensitive), remembering the match in the alias
// table. When no device name matches, the alias table's last-known index
// is used if it is still within the enumerated device list.
func resolveAudioDevice(name string, aliases *config.DeviceAliases) (int, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return -1, fmt.Errorf("enumerating devices: %w", err)
	}
	for i, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name), strings.ToLower(name)) {
			aliases.Remember(name, i)
			return i, nil
		}
	}
	if idx, ok := aliases.Lookup(name); ok && idx < len(devices) {
		return idx, nil
	}
	return -1, fmt.Errorf("no audio device matching %q", name)
}

func run(handler *telemetry.Handler, profile config.Profile, configPath string, interactive, daemon bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := filepath.Dir(configPath)
	mixerPath := filepath.Join(dir, "mixer_config.json")
	calibrationPath := filepath.Join(dir, "calibration.json")
	aliasPath := filepath.Join(dir, "device_aliases.json")

	aliases, err := config.LoadDeviceAliases(aliasPath)
	if err != nil {
		handler.Warnf(telemetry.Config, "device aliases: %v", err)
		aliases = config.NewDeviceAliases(aliasPath)
	}

	minV, maxV := 0.0, 10.0
	if len(profile.CVRanges) > 0 {
		minV, maxV = profile.CVRanges[0].Min, profile.CVRanges[0].Max
	}

	engine, err := mixer.New(channelCount, minV, maxV, audiostream.PortAudioOpener)
	if err != nil {
		return err
	}
	engine.SetReporter(telemetry.EngineSink{Handler: handler})

	mixerDoc, err := config.LoadMixerDocument(mixerPath)
	if err != nil {
		handler.Warnf(telemetry.Config, "mixer config: %v", err)
		mixerDoc = config.DefaultMixerDocument()
	}
	engine.Configure(mixerDoc)

	calibrator := calibrate.New(func(channel int) (float64, error) {
		ch := engine.Channel(channel)
		if ch == nil {
			return 0, fmt.Errorf("no channel %d", channel)
		}
		return ch.InputMeter.Current(), nil
	})
	_ = calibrator.Load(calibrationPath)
	for i := 0; i < channelCount; i++ {
		if r := calibrator.Result(i); r != nil {
			engine.Channel(i).Calibration = r
		}
	}

	// Each channel gets the CV filter preset and a classifier seeded
	// with its first input device's name.
	for i := 0; i < channelCount; i++ {
		ch := engine.Channel(i)
		deviceName := ""
		if len(ch.Inputs) > 0 {
			deviceName = ch.Inputs[0].Name
		}
		ch.Classifier = classify.New(classify.HistorySize, deviceName)
		if f, ferr := filter.NewPreset(filter.PresetCV, 44100); ferr == nil {
			ch.FilterChain = f
		}
	}

	formats := format.New()
	formats.AddTemplate(format.NewDefaultTemplate())
	engine.SetFormats(formats)

	// Channels with no configured outputs get a default OSC output
	// pointing at the profile's target, emitting at /cv/channel/{N}.
	port, err := strconv.Atoi(profile.OSCPort)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid osc_port %q", profile.OSCPort)
	}
	for _, ch := range engine.Channels() {
		if len(ch.Outputs) > 0 {
			continue
		}
		d := &mixer.DeviceConfig{
			ID:            fmt.Sprintf("osc-default-ch%d", ch.ID),
			Name:          "default OSC target",
			Kind:          mixer.KindOSCOutput,
			RemoteAddr:    profile.OSCHost,
			RemotePort:    port,
			AddressPrefix: "/cv/channel",
			Enabled:       true,
		}
		if err := ch.AddOutput(d); err != nil {
			handler.Warnf(telemetry.Config, "channel %d: %v", ch.ID, err)
		}
	}
	handler.Infof(telemetry.Network, "OSC target %s:%d", profile.OSCHost, port)

	if profile.AudioDevice != "" {
		if idx, derr := resolveAudioDevice(profile.AudioDevice, aliases); derr != nil {
			handler.Warnf(telemetry.Audio, "%v", derr)
		} else {
			handler.Infof(telemetry.Audio, "audio device %q at host index %d", profile.AudioDevice, idx)
			if serr := aliases.Save(); serr != nil {
				handler.Warnf(telemetry.Config, "saving device aliases: %v", serr)
			}
		}
	}

	// Watch for sound-card hotplug and re-resolve the configured device
	// so the alias table tracks index churn across replugs.
	discoverer := audiostream.NewDiscoverer(func() {
		handler.Infof(telemetry.Hardware, "sound device change detected")
		if profile.AudioDevice == "" {
			return
		}
		idx, derr := resolveAudioDevice(profile.AudioDevice, aliases)
		if derr != nil {
			handler.Warnf(telemetry.Audio, "%v", derr)
			return
		}
		handler.Infof(telemetry.Audio, "audio device %q now at host index %d", profile.AudioDevice, idx)
		if serr := aliases.Save(); serr != nil {
			handler.Warnf(telemetry.Config, "saving device aliases: %v", serr)
		}
	})
	go func() {
		if derr := discoverer.Run(ctx); derr != nil {
			handler.Warnf(telemetry.Hardware, "device watch: %v", derr)
		}
	}()

	// Announce the first bound OSC input port, if any channel has one.
	if inputPort := firstOSCInputPort(engine); inputPort > 0 {
		announcer, aerr := discovery.Announce("", inputPort)
		if aerr != nil {
			handler.Warnf(telemetry.Network, "DNS-SD announce: %v", aerr)
		} else {
			handler.Infof(telemetry.Network, "DNS-SD: announcing %s on port %d", discovery.ServiceType, inputPort)
			defer announcer.Stop()
		}
	}

	monitor := telemetry.NewMonitor(handler, 1000.0/float64(profile.UpdateIntervalMS))
	engine.SetPerfRecorder(monitor)
	go monitor.Run(engine.TickCount)
	defer monitor.Stop()

	engine.SetUpdateInterval(time.Duration(profile.UpdateIntervalMS) * time.Millisecond)
	engine.Run(ctx)
	defer engine.Stop()
	for i := 0; i < channelCount; i++ {
		if err := engine.StartChannel(i); err != nil {
			handler.Warnf(telemetry.System, "channel %d: %v", i, err)
		}
	}

	defer func() {
		if err := engine.Document().Save(mixerPath); err != nil {
			handler.Warnf(telemetry.Config, "saving mixer config: %v", err)
		}
	}()

	if interactive {
		return prompt(engine, monitor, calibrator, calibrationPath)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	if daemon {
		handler.Infof(telemetry.System, "running; send SIGINT or SIGTERM to stop")
	}
	<-sig
	handler.Infof(telemetry.System, "shutting down")
	return nil
}

// firstOSCInputPort returns the local port of the first enabled
// OSC-input device across all channels, or 0 if none is configured.
func firstOSCInputPort(engine *mixer.Engine) int {
	for _, ch := range engine.Channels() {
		for _, d := range ch.Inputs {
			if d.Enabled && !d.Kind.IsAudio() && d.LocalPort > 0 {
				return d.LocalPort
			}
		}
	}
	return 0
}

// prompt is the interactive command loop: channel transport, solo/mute,
// calibration, and status inspection.
func prompt(engine *mixer.Engine, monitor *telemetry.Monitor, calibrator *calibrate.Calibrator, calibrationPath string) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("cvosc interactive - type 'help' for commands")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd := fields[0]
		arg := -1
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil {
				arg = n
			}
		}

		switch cmd {
		case "help":
			fmt.Println("status | start N | stop N | solo N | mute N | mix N")
			fmt.Println("cal-start N | cal-point N VOLTS | cal-finish N | quit")
		case "status":
			for _, ch := range engine.Channels() {
				fmt.Printf("ch %d %-10s %-7s %-4s level=%.3fV rx=%d tx=%d\n",
					ch.ID, ch.Name, ch.State, modeName(ch.Mode), ch.LevelV, ch.MessagesReceived, ch.MessagesSent)
			}
			fmt.Printf("health: %s, %d msg/s\n", monitor.Health(), engine.MessageRate())
		case "start":
			report(engine.StartChannel(arg))
		case "stop":
			report(engine.StopChannel(arg))
		case "solo":
			report(engine.SetMode(arg, mixer.ModeSolo))
		case "mute":
			report(engine.SetMode(arg, mixer.ModeMute))
		case "mix":
			report(engine.SetMode(arg, mixer.ModeMix))
		case "cal-start":
			calibrator.Start(arg)
			fmt.Printf("calibrating channel %d; feed known voltages and use cal-point\n", arg)
		case "cal-point":
			if len(fields) < 3 {
				fmt.Println("usage: cal-point N VOLTS")
				continue
			}
			volts, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				fmt.Printf("bad voltage %q\n", fields[2])
				continue
			}
			report(calibrator.AddPoint(arg, volts))
		case "cal-finish":
			result, err := calibrator.Finish(arg)
			if err != nil {
				report(err)
				continue
			}
			fmt.Printf("scale=%.4f offset=%.4f R2=%.4f valid=%v\n",
				result.Scale, result.Offset, result.RSquared, result.IsValid)
			if result.IsValid {
				if ch := engine.Channel(arg); ch != nil {
					ch.Calibration = result
				}
				report(calibrator.Save(calibrationPath))
			}
		case "quit", "exit":
			return nil
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

func modeName(m mixer.Mode) string {
	switch m {
	case mixer.ModeSolo:
		return "SOLO"
	case mixer.ModeMute:
		return "MUTE"
	default:
		return "MIX"
	}
}

func report(err error) {
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}
