package portaudio

import (
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/tikhomirovv/voice-keyboard/internal/audio"
	"github.com/tikhomirovv/voice-keyboard/internal/device"
)

// Config contains capture stream parameters
type Config struct {
	Format          audio.Format
	FramesPerBuffer int
}

// Driver implements device.Opener on top of the system PortAudio library
type Driver struct {
	config Config
	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
	infos       map[string]*pa.DeviceInfo
}

// New creates a driver. Initialize must be called before use.
func New(config Config, logger *slog.Logger) *Driver {
	return &Driver{
		config: config,
		logger: logger,
		infos:  make(map[string]*pa.DeviceInfo),
	}
}

// Initialize loads the PortAudio library
func (p *Driver) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	p.initialized = true

	p.logger.Info("Audio backend initialized",
		slog.String("version", pa.VersionText()),
		slog.String("capture_format", p.config.Format.String()),
	)

	return nil
}

// Terminate releases the PortAudio library
func (p *Driver) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}
	p.initialized = false

	return pa.Terminate()
}

// Devices lists the available input devices
func (p *Driver) Devices() ([]device.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("audio backend not initialized")
	}

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultName := ""
	if def, err := pa.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	devices := make([]device.Device, 0, len(infos))
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}

		id := device.HashName(info.Name)
		p.infos[id] = info

		hostAPI := ""
		if info.HostApi != nil {
			hostAPI = info.HostApi.Name
		}

		devices = append(devices, device.Device{
			ID:         id,
			Name:       info.Name,
			Default:    info.Name == defaultName,
			SampleRate: int(info.DefaultSampleRate),
			Channels:   info.MaxInputChannels,
			HostAPI:    hostAPI,
		})
	}

	return devices, nil
}

// Resolve finds the device for selector
func (p *Driver) Resolve(selector string) (device.Device, error) {
	devices, err := p.Devices()
	if err != nil {
		return device.Device{}, fmt.Errorf("%w: %v", device.ErrDeviceNotFound, err)
	}
	return device.Resolve(devices, selector)
}

// Open builds a mono capture stream on dev. Samples arrive in the configured
// driver format and are converted before publish is called.
func (p *Driver) Open(dev device.Device, publish device.Publisher) (device.Stream, error) {
	p.mu.Lock()
	info, ok := p.infos[dev.ID]
	p.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: device %s was not enumerated", device.ErrDeviceNotFound, dev.ID)
	}

	params := pa.HighLatencyParameters(info, nil)
	params.Input.Channels = audio.Channels
	params.SampleRate = float64(dev.SampleRate)
	if p.config.FramesPerBuffer > 0 {
		params.FramesPerBuffer = p.config.FramesPerBuffer
	}

	var callback interface{}
	switch p.config.Format {
	case audio.FormatInt8:
		callback = device.Forward(audio.ConvertInt8, publish, p.recovered)
	case audio.FormatInt16:
		callback = device.Forward(audio.ConvertInt16, publish, p.recovered)
	case audio.FormatInt32:
		callback = device.Forward(audio.ConvertInt32, publish, p.recovered)
	case audio.FormatFloat32:
		callback = device.Forward(audio.ConvertFloat32, publish, p.recovered)
	default:
		return nil, fmt.Errorf("%w: unsupported sample format %s", device.ErrDeviceConfig, p.config.Format)
	}

	stream, err := pa.OpenStream(params, callback)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open stream on %s: %v", device.ErrDeviceConfig, dev.Name, err)
	}

	p.logger.Debug("Capture stream opened",
		slog.String("device", dev.Name),
		slog.Int("sample_rate", dev.SampleRate),
		slog.Int("frames_per_buffer", params.FramesPerBuffer),
	)

	return &portAudioStream{stream: stream}, nil
}

// recovered logs a panic raised inside the capture callback
func (p *Driver) recovered(r any) {
	p.logger.Error("Capture callback panicked", slog.Any("panic", r))
}

// portAudioStream adapts *pa.Stream to device.Stream
type portAudioStream struct {
	stream *pa.Stream
	once   sync.Once
	err    error
}

func (s *portAudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("%w: failed to start stream: %v", device.ErrDeviceConfig, err)
	}
	return nil
}

func (s *portAudioStream) Close() error {
	s.once.Do(func() {
		// Stop fails on a stream that was never started; Close still releases it
		_ = s.stream.Stop()
		s.err = s.stream.Close()
	})
	return s.err
}
