package webrtc

import (
	"context"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"roomcall/native/internal/domain"
)

var opusCapability = pion.RTPCodecCapability{
	MimeType:    pion.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

// Engine creates Opus audio capture and peer connections. It implements
// domain.MediaEngine.
type Engine struct {
	api *pion.API
	log zerolog.Logger
}

// NewEngine builds the pion API with Opus and NACK support. configure
// functions may adjust the setting engine, e.g. to run on a virtual network.
func NewEngine(log zerolog.Logger, configure ...func(*pion.SettingEngine)) (*Engine, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterCodec(pion.RTPCodecParameters{
		RTPCodecCapability: opusCapability,
		PayloadType:        111,
	}, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)

	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)

	se := pion.SettingEngine{LoggerFactory: NewLoggerFactory(log)}
	for _, fn := range configure {
		fn(&se)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)

	return &Engine{
		api: api,
		log: log.With().Str("component", "webrtc").Logger(),
	}, nil
}

// AcquireLocalMedia starts a local Opus track.
func (e *Engine) AcquireLocalMedia(ctx context.Context) (domain.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
	}
	s, err := newLocalStream(e.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
	}
	return s, nil
}

// CreatePeerLink creates a peer connection using iceServers.
func (e *Engine) CreatePeerLink(iceServers []domain.ICEServer) (domain.PeerLink, error) {
	var servers []pion.ICEServer
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := e.api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create peer connection: %v", domain.ErrMediaAcquisition, err)
	}
	return newPeer(pc, e.log), nil
}
