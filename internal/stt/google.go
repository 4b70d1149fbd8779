package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/jetbot/interview-gateway/internal/config"
)

// RecognitionType is the event type produced for Google streaming results.
const RecognitionType = "Recognition"

// GoogleDialer opens Google Cloud Speech-to-Text streaming recognitions.
type GoogleDialer struct {
	cfg *config.Config
}

func NewGoogleDialer(cfg *config.Config) *GoogleDialer {
	return &GoogleDialer{cfg: cfg}
}

func (d *GoogleDialer) Provider() string {
	return config.STTProviderGoogle
}

func (d *GoogleDialer) Dial(ctx context.Context) (Conn, error) {
	var opts []option.ClientOption
	if d.cfg.GoogleCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(d.cfg.GoogleCredentials))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	// The stream lives until Close, not until the dial context ends.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("failed to open streaming recognition: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   googleEncoding(d.cfg.GoogleEncoding),
					SampleRateHertz:            int32(d.cfg.STTSampleRate),
					LanguageCode:               d.cfg.GoogleLanguage,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return &googleConn{client: client, stream: stream, cancel: cancel}, nil
}

func googleEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(name) {
	case "webm_opus":
		return speechpb.RecognitionConfig_WEBM_OPUS
	case "ogg_opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

type googleConn struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc

	sendMu   sync.Mutex
	sendDone bool

	pending   []Event
	closeOnce sync.Once
}

func (c *googleConn) Send(audio []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendDone {
		return nil
	}
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Receive returns one event per recognition result. Responses that carry
// no results are skipped. io.EOF marks the end of the stream after
// Terminate.
func (c *googleConn) Receive(ctx context.Context) (Event, error) {
	for len(c.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := c.stream.Recv()
		if err != nil {
			return nil, err
		}
		c.pending = recognitionEvents(resp)
	}
	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev, nil
}

// Terminate half-closes the stream; Google returns the remaining final
// results and then ends the stream.
func (c *googleConn) Terminate() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendDone {
		return nil
	}
	c.sendDone = true
	return c.stream.CloseSend()
}

func (c *googleConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.client.Close()
	})
	return err
}

func recognitionEvents(resp *speechpb.StreamingRecognizeResponse) []Event {
	if st := resp.GetError(); st != nil && st.GetCode() != 0 {
		return []Event{{"type": "Error", "error": st.GetMessage(), "code": st.GetCode()}}
	}

	var out []Event
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		out = append(out, Event{
			"type":       RecognitionType,
			"transcript": strings.TrimSpace(alts[0].GetTranscript()),
			"is_final":   result.GetIsFinal(),
			"confidence": alts[0].GetConfidence(),
		})
	}
	return out
}
