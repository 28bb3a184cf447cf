package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// ErrDisabled is returned by Start after a fatal recognizer error
// (permission denied, no device, unsupported) latched the recognizer off.
var ErrDisabled = errors.New("recognizer permanently disabled")

// InitAudio and TeardownAudio bracket the process-wide audio subsystem.
func InitAudio() {
	microphone.Initialize()
	client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
}

func TeardownAudio() {
	microphone.Teardown()
}

// Options configures the Deepgram-backed recognizer.
type Options struct {
	APIKey      string
	SampleRates []int
	// Mobile suppresses interim frames to reduce churn on touch devices.
	Mobile   bool
	Model    string
	Language string
}

type liveClient interface {
	io.Writer
	Connect() bool
	Stop()
}

// Deepgram streams microphone audio to Deepgram live transcription and
// translates the SDK callbacks into tagged events.
type Deepgram struct {
	opts   Options
	events chan Event

	mu           sync.Mutex
	active       bool
	disabled     bool
	explicitStop bool
	endedSent    bool
	mic          *microphone.Microphone
	stream       liveClient
}

func NewDeepgram(opts Options) *Deepgram {
	if opts.Model == "" {
		opts.Model = "nova-2"
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	if len(opts.SampleRates) == 0 {
		opts.SampleRates = []int{16000, 48000, 44100, 32000, 24000}
	}
	return &Deepgram{opts: opts, events: make(chan Event, 128)}
}

func (d *Deepgram) Events() <-chan Event {
	return d.events
}

func (d *Deepgram) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.disabled {
		d.mu.Unlock()
		return ErrDisabled
	}
	if d.active {
		d.mu.Unlock()
		return nil
	}
	d.active = true
	d.explicitStop = false
	d.endedSent = false
	d.mu.Unlock()

	mic, sampleRate, err := d.openMicrophone()
	if err != nil {
		kind := classifyDeviceError(err)
		d.fail(kind)
		d.reset()
		if kind.Fatal() {
			d.disable()
		}
		return fmt.Errorf("open microphone: %w", err)
	}

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.opts.Model,
		Language:       d.opts.Language,
		Punctuate:      true,
		SmartFormat:    true,
		Encoding:       "linear16",
		SampleRate:     sampleRate,
		Channels:       1,
		InterimResults: !d.opts.Mobile,
		VadEvents:      true,
	}

	stream, err := client.NewWSUsingCallback(ctx, d.opts.APIKey, cOptions, tOptions, &deepgramCallback{r: d})
	if err != nil {
		_ = mic.Stop()
		d.fail(ErrNetwork)
		d.reset()
		return fmt.Errorf("create deepgram client: %w", err)
	}
	if ok := stream.Connect(); !ok {
		_ = mic.Stop()
		d.fail(ErrNetwork)
		d.reset()
		return errors.New("deepgram connect failed")
	}

	if err := mic.Start(); err != nil {
		stream.Stop()
		d.fail(ErrDeviceMissing)
		d.reset()
		return fmt.Errorf("start microphone: %w", err)
	}

	d.mu.Lock()
	d.mic = mic
	d.stream = stream
	d.mu.Unlock()

	go d.pump(ctx, mic, stream)
	return nil
}

func (d *Deepgram) Stop() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.explicitStop = true
	mic := d.mic
	stream := d.stream
	d.mu.Unlock()

	if mic != nil {
		_ = mic.Stop()
	}
	if stream != nil {
		stream.Stop()
	}

	d.sendEnded(false)
	d.reset()
}

func (d *Deepgram) openMicrophone() (*microphone.Microphone, int, error) {
	var lastErr error
	for _, rate := range d.opts.SampleRates {
		mic, err := microphone.New(microphone.AudioConfig{InputChannels: 1, SamplingRate: float32(rate)})
		if err != nil {
			lastErr = err
			continue
		}
		return mic, rate, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no usable sample rate")
	}
	return nil, 0, lastErr
}

// pump copies microphone audio into the websocket until the stream closes.
// Buffer overflows restart the copy; anything else ends the cycle.
func (d *Deepgram) pump(ctx context.Context, mic *microphone.Microphone, stream liveClient) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := mic.Stream(stream)
		if err == nil || ctx.Err() != nil {
			return
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			log.Printf("warning: mic input overflow, restarting stream")
			time.Sleep(250 * time.Millisecond)
			continue
		}

		log.Printf("mic stream error: %v", err)
		d.fail(ErrDeviceMissing)
		return
	}
}

func (d *Deepgram) disable() {
	d.mu.Lock()
	d.disabled = true
	d.mu.Unlock()
}

func (d *Deepgram) reset() {
	d.mu.Lock()
	d.active = false
	d.mic = nil
	d.stream = nil
	d.mu.Unlock()
}

func (d *Deepgram) fail(kind ErrorKind) {
	d.send(Event{Type: Failed, Err: kind})
}

func (d *Deepgram) sendEnded(shouldRestart bool) {
	d.mu.Lock()
	if d.endedSent {
		d.mu.Unlock()
		return
	}
	d.endedSent = true
	d.mu.Unlock()

	d.send(Event{Type: Ended, ShouldRestart: shouldRestart})
}

func (d *Deepgram) send(ev Event) {
	select {
	case d.events <- ev:
	default:
		// Drop rather than block the SDK callback goroutine. The
		// controller drains fast; only a stalled consumer loses frames.
		log.Printf("warning: recognizer event dropped: %s", ev.Type)
	}
}

// deepgramCallback adapts the SDK's callback interface onto the event
// stream.
type deepgramCallback struct {
	r *Deepgram
}

func (c *deepgramCallback) Open(*api.OpenResponse) error {
	c.r.send(Event{Type: Started})
	return nil
}

func (c *deepgramCallback) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	alt := mr.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return nil
	}

	if !mr.IsFinal {
		if c.r.opts.Mobile {
			return nil
		}
		c.r.send(Event{Type: Frame, Interim: text, Confidence: alt.Confidence})
		return nil
	}

	c.r.send(Event{Type: Frame, Final: text, Confidence: alt.Confidence})
	return nil
}

func (c *deepgramCallback) SpeechStarted(*api.SpeechStartedResponse) error {
	c.r.send(Event{Type: SpeechStart})
	return nil
}

func (c *deepgramCallback) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.r.send(Event{Type: SpeechEnd})
	return nil
}

func (c *deepgramCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c *deepgramCallback) Close(*api.CloseResponse) error {
	c.r.mu.Lock()
	explicit := c.r.explicitStop
	c.r.mu.Unlock()

	c.r.sendEnded(!explicit)
	if !explicit {
		c.r.reset()
	}
	return nil
}

func (c *deepgramCallback) Error(er *api.ErrorResponse) error {
	kind := classifyStreamError(er.ErrCode, er.Description)
	c.r.fail(kind)
	if kind.Fatal() {
		c.r.disable()
	}
	return nil
}

func (c *deepgramCallback) UnhandledEvent([]byte) error { return nil }

func classifyDeviceError(err error) ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not allowed"), strings.Contains(msg, "denied"):
		return ErrPermissionDenied
	case strings.Contains(msg, "unsupported"), strings.Contains(msg, "invalid sample"):
		return ErrUnsupported
	default:
		return ErrDeviceMissing
	}
}

func classifyStreamError(code, description string) ErrorKind {
	msg := strings.ToLower(code + " " + description)
	switch {
	case strings.Contains(msg, "no-speech"), strings.Contains(msg, "no speech"):
		return ErrNoSpeech
	case strings.Contains(msg, "not-allowed"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return ErrPermissionDenied
	default:
		return ErrNetwork
	}
}
