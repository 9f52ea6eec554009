package battmeas

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogger replaces the package logger, letting the daemon share its
// formatter and level with this package.
func SetLogger(l *logrus.Logger) {
	log = l
}

const (
	// MinInterval is the floor for the sampling period.
	MinInterval = 50 * time.Millisecond

	defaultCalibrationTimeout = time.Second

	// Depth of the completion-to-worker handoff queue. One slot would do,
	// since a new conversion can't start until the previous completion ran.
	pendingDepth = 8
)

// Completion is the converter's asynchronous completion notification. It is
// delivered on the converter's own completion context, so handlers must stay
// cheap and must not touch the notification channel.
type Completion struct {
	Calibration bool  // offset calibration finished
	Raw         int32 // one raw sample, valid when Calibration is false
	Err         error // peripheral failure; the cycle produced no sample
}

// Converter is the analog converter peripheral.
//
// Init prepares the peripheral and registers the completion handler; it
// returns ErrConverterBusy while a previous cycle is still in flight. The
// peripheral is expected to be uninitialized between cycles to save power,
// hence the init/sample/uninit round trip on every tick.
type Converter interface {
	Init(handler func(Completion)) error
	StartConversion() error
	CalibrateOffset() error
	Uninit()
}

// Timer drives the periodic sampling ticks.
type Timer interface {
	Start(period time.Duration)
	Stop()
}

// Notifier publishes battery levels to the notification channel. Benign
// failures (nobody attached yet) are reported as ErrNotifierUnavailable.
type Notifier interface {
	Publish(percent uint8) error
}

// EnableLine gates the battery monitoring circuitry, where the hardware has
// such a line.
type EnableLine interface {
	Assert() error
	Deassert() error
}

// SampleEvent is delivered to the registered handler exactly once per
// completed sampling cycle.
type SampleEvent struct {
	VoltageMv      uint16
	Percent        uint8
	Classification Classification
}

// Config collects everything needed to turn raw samples into classified
// battery levels.
type Config struct {
	Converter  ConverterConfig
	Thresholds Thresholds
	Table      SocTable

	// CalibrationTimeout bounds the wait for offset calibration during
	// NewMonitor. Zero means the default of one second.
	CalibrationTimeout time.Duration
}

func (c Config) Validate() error {
	if err := c.Converter.Validate(); err != nil {
		return err
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	return c.Table.Validate()
}

// Monitor owns one converter and runs the measurement pipeline: calibrate
// once, then on every tick initialize the converter, take a single sample,
// uninitialize, and hand the reading to a worker goroutine that classifies
// it, publishes the level and invokes the sample handler.
type Monitor struct {
	cfg     Config
	conv    Converter
	timer   Timer
	handler func(SampleEvent)
	fatal   func(error)

	pending   chan uint16
	calDone   chan struct{}
	quit      chan struct{}
	closeOnce sync.Once

	mu             sync.Mutex
	enable         EnableLine
	notifier       Notifier
	initialPercent uint8
	haveInitial    bool
}

// NewMonitor validates the configuration, runs the one-off offset
// calibration and leaves the monitor ready to be enabled.
func NewMonitor(cfg Config, conv Converter, handler func(SampleEvent)) (*Monitor, error) {
	if conv == nil || handler == nil {
		return nil, fmt.Errorf("%w: converter and sample handler are required", ErrInvalidParam)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CalibrationTimeout == 0 {
		cfg.CalibrationTimeout = defaultCalibrationTimeout
	}

	m := &Monitor{
		cfg:     cfg,
		conv:    conv,
		handler: handler,
		fatal: func(err error) {
			log.Fatal(err.Error())
		},
		pending: make(chan uint16, pendingDepth),
		calDone: make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	m.timer = newTickerTimer(m.tick)
	go m.run()

	if err := m.calibrate(cfg.CalibrationTimeout); err != nil {
		m.closeOnce.Do(func() { close(m.quit) })
		return nil, err
	}
	return m, nil
}

// SetEnableLine supplies the optional GPIO line powering the measurement
// circuit. Call before Enable.
func (m *Monitor) SetEnableLine(l EnableLine) {
	m.mu.Lock()
	m.enable = l
	m.mu.Unlock()
}

// SetNotifier attaches the notification channel. Levels measured before this
// point are available through InitialPercent.
func (m *Monitor) SetNotifier(n Notifier) {
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

// InitialPercent returns the battery level cached from cycles that completed
// before the notification channel existed.
func (m *Monitor) InitialPercent() (uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialPercent, m.haveInitial
}

// Enable starts periodic sampling. The first reading is taken straight away
// rather than one interval from now.
func (m *Monitor) Enable(interval time.Duration) error {
	if interval < MinInterval {
		return fmt.Errorf("%w: interval %s below the %s floor", ErrInvalidParam, interval, MinInterval)
	}
	if line := m.enableLine(); line != nil {
		if err := line.Assert(); err != nil {
			return fmt.Errorf("asserting battery monitoring line: %w", err)
		}
	}
	m.tick()
	m.timer.Start(interval)
	return nil
}

// Disable stops future ticks. A sample already in flight still completes and
// is still delivered.
func (m *Monitor) Disable() error {
	if line := m.enableLine(); line != nil {
		if err := line.Deassert(); err != nil {
			return fmt.Errorf("deasserting battery monitoring line: %w", err)
		}
	}
	m.timer.Stop()
	return nil
}

func (m *Monitor) enableLine() EnableLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enable
}

func (m *Monitor) calibrate(timeout time.Duration) error {
	if err := m.conv.Init(m.onCompletion); err != nil {
		return fmt.Errorf("initializing converter for calibration: %w", err)
	}
	if err := m.conv.CalibrateOffset(); err != nil {
		return fmt.Errorf("starting offset calibration: %w", err)
	}
	select {
	case <-m.calDone:
		log.Debug("converter offset calibration done")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: converter offset calibration", ErrTimeout)
	}
}

// tick runs one sampling cycle. A cycle still in flight leaves the converter
// initialized; that tick is silently skipped, never queued.
func (m *Monitor) tick() {
	err := m.conv.Init(m.onCompletion)
	if errors.Is(err, ErrConverterBusy) {
		return
	}
	if err != nil {
		m.fatal(fmt.Errorf("initializing converter: %w", err))
		return
	}
	if err := m.conv.StartConversion(); err != nil {
		m.fatal(fmt.Errorf("starting conversion: %w", err))
	}
}

// onCompletion runs on the converter's completion context. Only the voltage
// reconstruction and the handoff to the worker happen here; classification
// and publishing wait for task context.
func (m *Monitor) onCompletion(c Completion) {
	if c.Err != nil {
		// A broken converter must halt, not feed fabricated readings into
		// the pipeline.
		m.conv.Uninit()
		m.fatal(fmt.Errorf("converter completion: %w", c.Err))
		return
	}
	if c.Calibration {
		m.conv.Uninit()
		select {
		case m.calDone <- struct{}{}:
		default:
		}
		return
	}

	mv, err := m.cfg.Converter.RawToMillivolts(c.Raw)
	m.conv.Uninit()
	if err != nil {
		m.fatal(err)
		return
	}
	select {
	case m.pending <- mv:
	default:
		// Can't happen while the busy-skip rule holds, but don't block the
		// completion context if it ever does.
		log.Errorf("dropping battery reading of %dmV, queue full", mv)
	}
}

// Close disables sampling and releases the worker goroutine. The monitor
// cannot be re-enabled afterwards. Safe to call more than once.
func (m *Monitor) Close() error {
	err := m.Disable()
	m.closeOnce.Do(func() { close(m.quit) })
	return err
}

func (m *Monitor) run() {
	for {
		select {
		case mv := <-m.pending:
			m.process(mv)
		case <-m.quit:
			return
		}
	}
}

func (m *Monitor) process(mv uint16) {
	evt := SampleEvent{
		VoltageMv:      mv,
		Percent:        m.cfg.Table.PercentAt(mv),
		Classification: m.cfg.Thresholds.Classify(mv),
	}
	log.Debugf("battery %dmV, %d%%, %s", evt.VoltageMv, evt.Percent, evt.Classification)

	m.mu.Lock()
	n := m.notifier
	if n == nil {
		m.initialPercent = evt.Percent
		m.haveInitial = true
	}
	m.mu.Unlock()

	if n != nil {
		if err := n.Publish(evt.Percent); err != nil {
			if errors.Is(err, ErrNotifierUnavailable) {
				log.Debugf("battery level not published: %v", err)
			} else {
				m.fatal(fmt.Errorf("publishing battery level: %w", err))
				return
			}
		}
	}

	m.handler(evt)
}

// tickerTimer is the default Timer, driving ticks from a time.Ticker.
type tickerTimer struct {
	handler func()

	mu   sync.Mutex
	stop chan struct{}
}

func newTickerTimer(handler func()) *tickerTimer {
	return &tickerTimer{handler: handler}
}

func (t *tickerTimer) Start(period time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	stop := make(chan struct{})
	t.stop = stop
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.handler()
			case <-stop:
				return
			}
		}
	}()
}

func (t *tickerTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return
	}
	close(t.stop)
	t.stop = nil
}
