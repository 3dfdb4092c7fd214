// Command livefile runs one live session with a recording standing in for
// the microphone, printing the transcript and optionally saving or playing
// the model's audio.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/room4-2/auralive/audio"
	"github.com/room4-2/auralive/config"
	"github.com/room4-2/auralive/device"
	"github.com/room4-2/auralive/gemini"
	"github.com/room4-2/auralive/session"
)

// printer writes transcript lines to stdout and signals when the session ends.
type printer struct {
	out  io.Writer
	done chan struct{}
	once sync.Once
}

func (p *printer) StateChanged(_ string, state session.State, cause error) {
	if cause != nil {
		log.Printf("📊 State: %s (%v)", state, cause)
	} else {
		log.Printf("📊 State: %s", state)
	}
	if state == session.StateIdle {
		p.once.Do(func() { close(p.done) })
	}
}

func (p *printer) TranscriptAppended(line session.Line) {
	fmt.Fprintf(p.out, "📝 %s\n", line)
}

func main() {
	var (
		file     string
		out      string
		speaker  bool
		realtime bool
		wait     time.Duration
		model    string
		voice    string
		prompt   string
	)

	app := kingpin.New("livefile", "Stream an audio file through a Gemini Live session.")
	app.Flag("file", "Audio file to send (16 kHz mono PCM or WAV).").Short('f').Required().ExistingFileVar(&file)
	app.Flag("out", "Write the model's audio (24 kHz mono PCM) to this file.").Short('o').StringVar(&out)
	app.Flag("speaker", "Play the model's audio on the default output device.").BoolVar(&speaker)
	app.Flag("realtime", "Pace the file at its natural speed.").Default("true").BoolVar(&realtime)
	app.Flag("wait", "How long to keep listening after the file has been sent.").Default("30s").DurationVar(&wait)
	app.Flag("model", "Live model name; overrides GEMINI_MODEL.").StringVar(&model)
	app.Flag("voice", "Prebuilt voice; overrides GEMINI_VOICE.").StringVar(&voice)
	app.Flag("prompt", "System instruction; overrides SYSTEM_PROMPT.").StringVar(&prompt)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	opts := session.DefaultOptions()
	opts.Model = pick(model, cfg.Model)
	opts.Voice = pick(voice, cfg.Voice)
	opts.SystemInstruction = pick(prompt, cfg.SystemPrompt)
	opts.InputTranscription = cfg.InputTranscription
	opts.OutputTranscription = cfg.OutputTranscription
	opts.HandshakeTimeout = cfg.HandshakeTimeout
	opts.StallTimeout = 0

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connector, err := gemini.NewConnector(ctx, cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("Failed to create Gemini connector: %v", err)
	}

	var sink session.Speaker
	if speaker {
		sink = device.NewSpeaker()
	} else {
		var w io.Writer
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				log.Fatalf("Failed to create %s: %v", out, err)
			}
			defer f.Close()
			w = f
		}
		sink = device.NewClockSink(w)
	}

	mic := device.NewFileMicrophone(file)
	mic.Realtime = realtime

	p := &printer{out: os.Stdout, done: make(chan struct{})}
	manager := session.NewManager(connector, mic, sink, opts, session.WithListener(p))

	log.Printf("🔌 Connecting to %s...", opts.Model)
	if err := manager.Start(ctx); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	log.Printf("📤 Sending audio file: %s", file)

	select {
	case <-p.done:
		log.Println("Session closed")
	case <-ctx.Done():
		log.Println("👋 Interrupted, closing...")
	case <-time.After(wait + fileDuration(file)):
		log.Println("⏰ Done waiting for responses")
	}
	manager.Stop()
}

// fileDuration estimates how long the recording takes to replay.
func fileDuration(path string) time.Duration {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return audio.Input.Duration(int(info.Size()) / audio.Input.BytesPerFrame())
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}
