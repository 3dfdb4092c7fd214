package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/room4-2/auralive/audio"
	"github.com/room4-2/auralive/live"
)

const (
	// DefaultModel is the native-audio Live model used when none is configured.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	// DefaultVoice is the prebuilt voice used when none is configured.
	DefaultVoice = "Zephyr"
)

// liveSession is the part of *genai.Session the proxy relies on.
type liveSession interface {
	Receive() (*genai.LiveServerMessage, error)
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Close() error
}

type dialFunc func(ctx context.Context, model string, config *genai.LiveConnectConfig) (liveSession, error)

// Connector opens Gemini Live sessions using the official SDK.
type Connector struct {
	dial dialFunc
}

var _ live.Connector = (*Connector)(nil)

// NewConnector creates a GenAI client for the Gemini API backend.
func NewConnector(ctx context.Context, apiKey string) (*Connector, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Connector{
		dial: func(ctx context.Context, model string, config *genai.LiveConnectConfig) (liveSession, error) {
			session, err := client.Live.Connect(ctx, model, config)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
	}, nil
}

// Connect dials the Live API and starts delivering events to handler. The
// Opened event follows once the server acknowledges the setup.
func (c *Connector) Connect(ctx context.Context, cfg live.ConnectConfig, handler live.EventHandler) (live.Connection, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	session, err := c.dial(ctx, model, buildConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}
	log.Printf("✅ Connected to Gemini Live via SDK (%s)", model)

	p := &Proxy{session: session, handler: handler}
	go p.receive()
	return p, nil
}

// buildConfig maps the session settings onto the Live setup message.
// Responses are always audio.
func buildConfig(cfg live.ConnectConfig) *genai.LiveConnectConfig {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: voice, // Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
				},
			},
		},
	}
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.InputTranscription {
		config.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		config.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return config
}

// Proxy is one open Live session. It implements live.Connection.
type Proxy struct {
	session liveSession
	handler live.EventHandler

	// opened is only touched by the receive goroutine.
	opened bool

	mu     sync.RWMutex
	closed bool
}

var _ live.Connection = (*Proxy)(nil)

// receive pumps server messages into the handler until the session ends.
// Nothing is delivered once Close has been called.
func (p *Proxy) receive() {
	for {
		resp, err := p.session.Receive()
		if err != nil {
			if p.isClosed() {
				return
			}
			ev := classifyReceiveError(err)
			if re, ok := ev.(live.RemoteError); ok {
				log.Printf("❌ Gemini receive error: %v", re.Err)
			}
			p.handler(ev)
			return
		}

		events := translate(resp)
		if len(events) > 0 && !p.opened {
			if _, ok := events[0].(live.Opened); !ok {
				// The setup acknowledgement was consumed before we saw it.
				events = append([]live.Event{live.Opened{}}, events...)
			}
		}
		for _, ev := range events {
			if p.isClosed() {
				return
			}
			if _, ok := ev.(live.Opened); ok {
				if p.opened {
					continue
				}
				p.opened = true
			}
			p.handler(ev)
		}
	}
}

// translate converts one server message into session events, in the order
// the live view handles them: interruption first, then transcripts, audio
// and turn completion.
func translate(resp *genai.LiveServerMessage) []live.Event {
	if resp == nil {
		return nil
	}

	var events []live.Event
	if resp.SetupComplete != nil {
		events = append(events, live.Opened{})
	}

	if sc := resp.ServerContent; sc != nil {
		if sc.Interrupted {
			events = append(events, live.Interrupted{})
		}
		if t := sc.InputTranscription; t != nil && strings.TrimSpace(t.Text) != "" {
			events = append(events, live.Transcription{Speaker: live.SpeakerUser, Text: t.Text, Final: t.Finished})
		}
		if t := sc.OutputTranscription; t != nil && strings.TrimSpace(t.Text) != "" {
			events = append(events, live.Transcription{Speaker: live.SpeakerModel, Text: t.Text, Final: t.Finished})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				events = append(events, live.AudioChunk{Data: part.InlineData.Data})
			}
		}
		if sc.TurnComplete {
			events = append(events, live.TurnComplete{})
		}
	}

	if resp.GoAway != nil {
		log.Println("📥 Received from Gemini: go away")
	}
	return events
}

// classifyReceiveError turns a receive failure into Closed for a clean
// websocket close and RemoteError for anything else.
func classifyReceiveError(err error) live.Event {
	if errors.Is(err, io.EOF) {
		return live.Closed{}
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return live.Closed{Reason: ce.Text}
		}
		return live.Closed{}
	}
	return live.RemoteError{Err: err}
}

func (p *Proxy) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// SendAudio forwards one PCM payload tagged with its MIME type.
func (p *Proxy) SendAudio(pcm []byte, format audio.Format) error {
	if p.isClosed() {
		return fmt.Errorf("proxy is closed")
	}

	err := p.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: format.MIMEType(),
			Data:     pcm,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Close terminates the Live session. It may be called from the handler.
func (p *Proxy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.session.Close()
}
