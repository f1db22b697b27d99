package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joshp123/rointe-golang/rointe"
)

// Service polls the cloud on an interval and keeps the latest state of every
// device in memory. Collectors and publishers read the in-memory snapshot so
// a scrape never triggers cloud traffic of its own.
type Service struct {
	client       *rointe.Client
	log          *zap.SugaredLogger
	interval     time.Duration
	installation string
	publisher    *Publisher

	mu        sync.Mutex
	devices   map[string]*rointe.Device
	latestFW  map[string]string
	lastPoll  time.Time
	lastError error
}

func NewService(client *rointe.Client, installation string, interval time.Duration, publisher *Publisher, log *zap.SugaredLogger) *Service {
	return &Service{
		client:       client,
		log:          log,
		interval:     interval,
		installation: installation,
		publisher:    publisher,
		devices:      make(map[string]*rointe.Device),
		latestFW:     make(map[string]string),
	}
}

// Run polls until the context is cancelled. The first poll happens
// immediately so metrics are available right after startup.
func (s *Service) Run(ctx context.Context) error {
	if err := s.resolveInstallation(ctx); err != nil {
		return err
	}

	if fw, err := s.client.LatestFirmware(ctx); err != nil {
		s.log.Warnw("firmware catalog unavailable", "err", err)
	} else {
		s.mu.Lock()
		s.latestFW = fw
		s.mu.Unlock()
	}

	if s.publisher != nil {
		if err := s.publisher.SubscribeCommands(func(deviceID string, temp float64) {
			s.handleSetTemperature(ctx, deviceID, temp)
		}); err != nil {
			s.log.Warnw("mqtt command subscription failed", "err", err)
		}
	}

	s.pollOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) resolveInstallation(ctx context.Context) error {
	if s.installation != "" {
		return nil
	}
	installations, err := s.client.Installations(ctx)
	if err != nil {
		return err
	}
	for id, name := range installations {
		s.installation = id
		s.log.Infow("using installation", "id", id, "name", name)
		break
	}
	return nil
}

func (s *Service) pollOnce(ctx context.Context) {
	deviceIDs, err := s.client.InstallationDevices(ctx, s.installation)
	if err != nil {
		s.recordPoll(err)
		s.log.Errorw("device discovery failed", "err", err)
		return
	}

	s.client.RefreshEnergyStats()

	for _, id := range deviceIDs {
		payload, err := s.client.DevicePayload(ctx, id)
		if err != nil {
			s.log.Warnw("device poll failed", "device", id, "err", err)
			continue
		}

		s.mu.Lock()
		device, known := s.devices[id]
		s.mu.Unlock()

		var prevEnergy *rointe.EnergyData
		if known {
			prevEnergy = device.Energy
		}

		if energy, err := s.client.LatestEnergyStats(ctx, id, s.installation); err == nil {
			prevEnergy = energy
		} else {
			s.log.Debugw("energy stats unavailable", "device", id, "err", err)
		}

		if known {
			device.Update(payload, prevEnergy, s.latestFirmwareFor(device))
		} else {
			device = rointe.ParseDevice(id, payload, prevEnergy, "")
			if !device.SupportedType() {
				s.log.Warnw("skipping unsupported device type", "device", id, "type", device.Type)
				continue
			}
			device.LatestFirmwareVersion = s.latestFirmwareFor(device)
			s.mu.Lock()
			s.devices[id] = device
			s.mu.Unlock()
		}

		if s.publisher != nil {
			if err := s.publisher.PublishState(device); err != nil {
				s.log.Warnw("mqtt publish failed", "device", id, "err", err)
			}
		}
	}

	s.recordPoll(nil)
	s.log.Debugw("poll complete", "devices", len(deviceIDs))
}

func (s *Service) latestFirmwareFor(d *rointe.Device) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestFW[d.Product()]
}

func (s *Service) handleSetTemperature(ctx context.Context, deviceID string, temp float64) {
	s.mu.Lock()
	device := s.devices[deviceID]
	s.mu.Unlock()
	if device == nil {
		s.log.Warnw("command for unknown device", "device", deviceID)
		return
	}
	if err := s.client.SetTemperature(ctx, device, temp); err != nil {
		s.log.Errorw("set temperature failed", "device", deviceID, "temp", temp, "err", err)
		return
	}
	s.log.Infow("temperature set", "device", deviceID, "temp", temp)
}

func (s *Service) recordPoll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPoll = time.Now()
	s.lastError = err
}

// Devices returns a snapshot of the current device set.
func (s *Service) Devices() []*rointe.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*rointe.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

// LastPoll reports when the last poll finished and whether it succeeded.
func (s *Service) LastPoll() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPoll, s.lastError
}
