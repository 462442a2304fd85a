package meter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/NotCoffee418/obis_meter_reader/pkg/conformity"
	"github.com/NotCoffee418/obis_meter_reader/pkg/iec62056"
	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
	"github.com/NotCoffee418/obis_meter_reader/pkg/sml"
	"github.com/NotCoffee418/obis_meter_reader/pkg/transport"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

// settings is the validated form of a Config, owned by one run of the device.
type settings struct {
	id          string
	port        string
	mode        types.ProtocolMode
	baudRate    uint
	changeDelay time.Duration
	readTimeout time.Duration
	initMessage []byte
	policy      conformity.Policy
	probeHost   bool
}

// Device reads one meter. Exactly one goroutine runs read cycles, so decode
// cycles never overlap.
type Device struct {
	id       string
	listener Listener
	resolver *transport.Resolver
	log      zerolog.Logger
	cache    *Cache

	mu        sync.Mutex
	cfg       Config
	state     State
	status    Status
	settings  settings
	plan      Plan
	cancel    context.CancelFunc
	done      chan struct{}
	direction types.Direction
	lastRead  time.Time
}

// NewDevice creates an unconfigured device. A nil listener discards events,
// a nil resolver opens local and rfc2217 ports.
func NewDevice(cfg Config, listener Listener, resolver *transport.Resolver, log zerolog.Logger) *Device {
	log = log.With().Str("device", cfg.ID).Logger()
	if listener == nil {
		listener = Listeners{}
	}
	if resolver == nil {
		resolver = transport.NewResolver(log)
	}
	return &Device{
		id:       cfg.ID,
		cfg:      cfg,
		listener: listener,
		resolver: resolver,
		log:      log,
		cache:    NewCache(),
		status:   Status{Kind: StatusUnknown, Since: time.Now()},
	}
}

// Configure validates the configuration and moves the device to idle. On
// failure the device is errored and reports a configuration error.
func (d *Device) Configure() error {
	d.mu.Lock()
	if d.state == StateDisposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	if d.cancel != nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: device is running", ErrBadConfig)
	}
	d.state = StateConfiguring
	cfg := d.cfg
	d.mu.Unlock()
	d.updateStatus(StatusUnknown, DetailConfigurationPending, "")

	s, err := parseSettings(d.id, cfg)
	if err != nil {
		d.mu.Lock()
		d.state = StateErrored
		d.mu.Unlock()
		d.log.Error().Err(err).Msg("invalid device configuration")
		d.updateStatus(StatusOffline, DetailConfigurationError, err.Error())
		return err
	}

	d.mu.Lock()
	d.settings = s
	d.plan = planFor(s.mode, cfg.Refresh)
	d.state = StateIdle
	d.mu.Unlock()

	d.log.Info().
		Str("port", s.port).
		Str("mode", string(s.mode)).
		Uint("baudrate", s.baudRate).
		Str("conformity", s.policy.Name).
		Msg("device configured")
	return nil
}

func parseSettings(id string, cfg Config) (settings, error) {
	s := settings{id: id, port: strings.TrimSpace(cfg.Port), changeDelay: cfg.BaudRateChangeDelay, probeHost: cfg.ProbeHost}
	if s.port == "" {
		return s, ErrMissingPort
	}

	mode, err := types.ParseProtocolMode(cfg.Mode)
	if err != nil {
		return s, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	s.mode = mode

	if s.baudRate, err = ParseBaudRate(cfg.BaudRate); err != nil {
		return s, err
	}
	if s.baudRate == 0 {
		s.baudRate = AutoBaudRate(mode)
	}

	if s.initMessage, err = hex.DecodeString(strings.Join(strings.Fields(cfg.InitMessage), "")); err != nil {
		return s, fmt.Errorf("%w: %w", ErrBadInitMessage, err)
	}

	policy, err := conformity.PolicyByName(cfg.Conformity)
	if err != nil {
		return s, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	for _, text := range cfg.Negate {
		spec, err := conformity.ParseNegation(text)
		if err != nil {
			return s, fmt.Errorf("%w: negate %q: %w", ErrBadConfig, text, err)
		}
		policy = policy.With(spec)
	}
	s.policy = policy

	s.readTimeout = cfg.ReadTimeout
	if s.readTimeout <= 0 {
		s.readTimeout = DefaultReadTimeout
	}
	return s, nil
}

// planFor installs a refresh period and a retry policy for polled modes only.
func planFor(mode types.ProtocolMode, refresh time.Duration) Plan {
	if !mode.Polled() {
		return Plan{}
	}
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = refresh
	retry.MaxElapsedTime = 0
	return Plan{Period: refresh, Retry: retry}
}

// Start launches the read loop. It is a no-op when the loop already runs.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.state == StateDisposed:
		return ErrDisposed
	case d.cancel != nil:
		return nil
	case d.state != StateIdle:
		return ErrNotConfigured
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.cancel, d.done = cancel, done
	s, plan := d.settings, d.plan

	go func() {
		defer close(done)
		if plan.Period == 0 {
			if err := d.listen(runCtx, s); err != nil {
				d.listenFailed(done, s, err)
			}
			return
		}
		d.poll(runCtx, s, plan)
	}()
	return nil
}

// listenFailed detaches the finished loop and leaves the device errored, a
// listening device needs Configure or Reconfigure before it reads again.
func (d *Device) listenFailed(done chan struct{}, s settings, err error) {
	d.mu.Lock()
	if d.done == done {
		d.cancel()
		d.cancel, d.done = nil, nil
	}
	if d.state != StateDisposed {
		d.state = StateErrored
	}
	d.mu.Unlock()

	d.log.Error().Err(err).Msg("listening stopped")
	d.communicationFailed(s, err)
}

// stop cancels the read loop and waits for it to return.
func (d *Device) stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Dispose stops reading and closes the transport. Calling it again is a no-op.
func (d *Device) Dispose() {
	d.mu.Lock()
	if d.state == StateDisposed {
		d.mu.Unlock()
		return
	}
	d.state = StateDisposed
	d.mu.Unlock()

	d.stop()
	d.log.Debug().Msg("device disposed")
}

// Reconfigure stops the running loop, applies cfg and starts again.
func (d *Device) Reconfigure(ctx context.Context, cfg Config) error {
	d.stop()
	d.mu.Lock()
	if d.state == StateDisposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	cfg.ID = d.id
	d.cfg = cfg
	d.mu.Unlock()

	if err := d.Configure(); err != nil {
		return err
	}
	return d.Start(ctx)
}

func (d *Device) poll(ctx context.Context, s settings, plan Plan) {
	ticker := time.NewTicker(plan.Period)
	defer ticker.Stop()
	retry := backoff.WithContext(plan.Retry, ctx)

	for {
		err := backoff.RetryNotify(func() error {
			return d.readCycle(ctx, s)
		}, retry, func(err error, next time.Duration) {
			if ctx.Err() != nil {
				return
			}
			d.log.Warn().Err(err).Dur("retry_in", next).Msg("read cycle failed")
			d.communicationFailed(s, err)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.communicationFailed(s, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readCycle opens the port, reads one frame and closes the port again.
func (d *Device) readCycle(ctx context.Context, s settings) error {
	d.setState(StateReading)
	defer d.setState(StateIdle)

	cycleCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	conn := transport.NewConnector(d.resolver, s.port, lineOptions(s))
	defer conn.Close()
	// closing the port is the only way to interrupt a blocked read
	stop := context.AfterFunc(cycleCtx, func() { conn.Close() })
	defer stop()

	t, err := conn.Open(cycleCtx)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("opening %s: %w", s.port, err)
	}

	frame, err := d.readFrame(t, s)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if cycleCtx.Err() != nil {
			return fmt.Errorf("reading %s: no complete frame within %s: %w", s.port, s.readTimeout, err)
		}
		return fmt.Errorf("reading %s: %w", s.port, err)
	}
	d.process(s, frame)
	return nil
}

func (d *Device) readFrame(t transport.Transport, s settings) (types.Frame, error) {
	if s.mode == types.ModeSML {
		return sml.NewReader(t, s.initMessage, d.log).Read()
	}
	msg, err := iec62056.NewReader(t, iec62056.ReaderOptions{
		InitMessage:     s.initMessage,
		InitialBaudRate: s.baudRate,
		ChangeDelay:     s.changeDelay,
	}, d.log).Read()
	return msg.Frame, err
}

// listen keeps the port open and handles every pushed telegram. There is no
// retry, the returned error is the failure that ended the session and is nil
// when ctx was cancelled.
func (d *Device) listen(ctx context.Context, s settings) error {
	d.setState(StateReading)

	conn := transport.NewConnector(d.resolver, s.port, lineOptions(s))
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	t, err := conn.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			d.setState(StateIdle)
			return nil
		}
		return fmt.Errorf("opening %s: %w", s.port, err)
	}

	frames := make(chan types.Frame, listenBuffer)
	errc := make(chan error, 1)
	go func() {
		errc <- iec62056.Listen(ctx, t, func(m iec62056.DataMessage) {
			select {
			case frames <- m.Frame:
			default:
				d.log.Warn().Msg("previous telegrams still queued, dropping telegram")
			}
		}, d.log)
	}()

	for {
		select {
		case f := <-frames:
			d.process(s, f)
		case err := <-errc:
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				d.setState(StateIdle)
				return nil
			}
			for len(frames) > 0 {
				d.process(s, <-frames)
			}
			return err
		}
	}
}

// lineOptions: IEC 62056-21 runs 7E1, SML and DSMR P1 at 115200 baud run 8N1.
func lineOptions(s settings) transport.Options {
	var opts transport.Options
	switch {
	case s.mode == types.ModeSML, s.mode == types.ModeD && s.baudRate >= 115200:
		opts = transport.Options8N1(s.baudRate)
	default:
		opts = transport.Options7E1(s.baudRate)
	}
	opts.ProbeHost = s.probeHost
	return opts
}

func (d *Device) process(s settings, frame types.Frame) {
	set, skipped := s.policy.Apply(types.ReadingSetOf(frame.Values))
	for _, code := range skipped {
		d.log.Warn().Str("obis", code.String()).Msg("negation bit not addressable, value left as read")
	}
	events := d.cache.Apply(set)

	d.mu.Lock()
	d.direction = frame.Direction
	d.lastRead = time.Now()
	d.mu.Unlock()

	d.log.Debug().Int("values", len(set)).Int("events", len(events)).Msg("read cycle complete")
	d.updateStatus(StatusOnline, DetailNone, "")
	Dispatch(d.listener, s.id, events)
}

func (d *Device) communicationFailed(s settings, err error) {
	d.updateStatus(StatusOffline, DetailCommunicationError, err.Error())
	d.listener.ErrorOccurred(s.id, err)
}

func (d *Device) setState(state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateDisposed {
		return
	}
	d.state = state
}

func (d *Device) updateStatus(kind StatusKind, detail StatusDetail, message string) {
	d.mu.Lock()
	if d.status.Kind == kind && d.status.Detail == detail && d.status.Message == message {
		d.mu.Unlock()
		return
	}
	d.status = Status{Kind: kind, Detail: detail, Message: message, Since: time.Now()}
	status := d.status
	d.mu.Unlock()

	d.log.Info().Str("status", status.String()).Msg("device status changed")
	if sl, ok := d.listener.(StatusListener); ok {
		sl.StatusChanged(d.id, status)
	}
}

func (d *Device) ID() string {
	return d.id
}

func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Plan is the schedule of the last successful Configure.
func (d *Device) Plan() Plan {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.plan
}

// Direction is the energy direction of the last frame.
func (d *Device) Direction() types.Direction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.direction
}

func (d *Device) Get(code obis.Code) (types.MeterValue, bool) {
	return d.cache.Get(code)
}

func (d *Device) Values() []types.MeterValue {
	return d.cache.Values()
}

// Info is a snapshot for status pages.
type Info struct {
	ID        string    `json:"id"`
	Port      string    `json:"port"`
	Mode      string    `json:"mode"`
	State     State     `json:"state"`
	Status    Status    `json:"status"`
	Direction string    `json:"direction"`
	LastRead  time.Time `json:"last_read"`
	Values    int       `json:"values"`
}

func (d *Device) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Info{
		ID:        d.id,
		Port:      d.cfg.Port,
		Mode:      string(d.settings.mode),
		State:     d.state,
		Status:    d.status,
		Direction: d.direction.String(),
		LastRead:  d.lastRead,
		Values:    d.cache.Len(),
	}
}
