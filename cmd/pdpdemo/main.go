package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/liamstask/go-rtps-pdp/pdp"
	"github.com/liamstask/go-rtps-pdp/rtps"
)

func main() {
	configPath := flag.String("config", "", "path to a discovery config YAML file (optional)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	discoveryConfig := pdp.DefaultDiscoveryConfig
	allocation := pdp.DefaultAllocation
	if *configPath != "" {
		fc, err := loadFileConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
		discoveryConfig = fc.ToDiscoveryConfig()
		allocation = fc.ToAllocation()
	}

	pool := pdp.NewProxyPool(pdp.WithPoolLogger(log))
	engine := pdp.NewPDPEngine(pool, allocation,
		pdp.WithLogger(log),
		pdp.WithDiscoveryConfig(discoveryConfig),
		pdp.WithListener(&printingListener{log: log}),
	)

	prefix := rtps.NewGUIDPrefix()
	copy(prefix, uuid.New().NodeID())
	localGUID := rtps.NewGUID(prefix, rtps.ENTITYID_PARTICIPANT)

	participant := &demoParticipant{
		guid: localGUID,
		attrs: rtps.ParticipantAttributes{
			ProtoVer:         rtps.CurrentProtoVersion,
			BuiltinEndpoints: rtps.BuiltinEndpointParticipantAnnouncer | rtps.BuiltinEndpointParticipantDetector,
			DefaultUcastLoc:  rtps.NewUDPv4Locator(net.IPv4(127, 0, 0, 1), 7410),
			MetaUcastLoc:     rtps.NewUDPv4Locator(net.IPv4(127, 0, 0, 1), 7400),
			LeaseDuration:    discoveryConfig.LeaseDuration,
			ParticipantName:  fmt.Sprintf("pdpdemo-%s", uuid.NewString()[:8]),
		},
	}

	if err := engine.Init(participant); err != nil {
		log.Fatal().Err(err).Msg("engine init failed")
	}
	log.Info().Str("guid", localGUID.String()).Msg("local participant initialized")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go simulateRemotePeer(engine, log)

	<-sigCh
	log.Info().Msg("shutting down")
	if err := engine.Close(); err != nil {
		log.Error().Err(err).Msg("engine close reported an error")
	}
}

// simulateRemotePeer stands in for a transport layer feeding PDP samples:
// it announces a fabricated remote participant, refreshes its liveliness a
// few times, then lets its lease lapse so the demo's listener observes
// Discovered followed by Dropped. Liveliness assertions do not notify the
// listener, so no ChangedQos is reported.
func simulateRemotePeer(engine *pdp.PDPEngine, log zerolog.Logger) {
	time.Sleep(2 * time.Second)

	remotePrefix := rtps.NewGUIDPrefix()
	copy(remotePrefix, uuid.New().NodeID())
	remoteGUID := rtps.NewGUID(remotePrefix, rtps.ENTITYID_PARTICIPANT)

	remote := pdp.NewParticipantProxyData()
	remote.GUID = remoteGUID
	remote.ParticipantName = "simulated-peer"
	remote.LeaseDuration = 3 * time.Second
	remote.DefaultUnicastLocators = []rtps.Locator{rtps.NewUDPv4Locator(net.IPv4(127, 0, 0, 1), 7510)}

	if err := engine.OnAliveSample(remote); err != nil {
		log.Error().Err(err).Msg("simulated discovery failed")
		return
	}

	for i := 0; i < 3; i++ {
		time.Sleep(1 * time.Second)
		if err := engine.AssertRemoteParticipantLiveliness(remotePrefix); err != nil {
			log.Error().Err(err).Msg("simulated liveliness assertion failed")
			return
		}
	}

	log.Info().Msg("simulated peer going quiet; lease will lapse")
}

// printingListener is the demo's Listener: it just logs every notification.
type printingListener struct {
	log zerolog.Logger
}

func (l *printingListener) OnParticipantDiscovery(_ *pdp.PDPEngine, info pdp.ParticipantDiscoveryInfo) {
	l.log.Info().
		Str("guid", info.GUID.String()).
		Str("status", info.Status.String()).
		Str("name", info.PPD.ParticipantName).
		Msg("participant discovery")
}

func (l *printingListener) OnReaderDiscovery(_ *pdp.PDPEngine, info pdp.ReaderDiscoveryInfo) {
	l.log.Info().
		Str("guid", info.GUID.String()).
		Str("status", info.Status.String()).
		Str("topic", info.RPD.TopicName).
		Msg("reader discovery")
}

func (l *printingListener) OnWriterDiscovery(_ *pdp.PDPEngine, info pdp.WriterDiscoveryInfo) {
	l.log.Info().
		Str("guid", info.GUID.String()).
		Str("status", info.Status.String()).
		Str("topic", info.WPD.TopicName).
		Msg("writer discovery")
}

// demoParticipant is a minimal RTPSParticipantImpl: it has no real transport,
// so CreateWriter/CreateReader return nil, letting the pdp package fall back
// to its own in-memory cache-change history.
type demoParticipant struct {
	guid  rtps.GUID
	attrs rtps.ParticipantAttributes
}

func (p *demoParticipant) Attributes() rtps.ParticipantAttributes { return p.attrs }
func (p *demoParticipant) GUID() rtps.GUID                        { return p.guid }

func (p *demoParticipant) CreateWriter(eid rtps.EntityID) (pdp.CacheChangeWriter, error) {
	return nil, nil
}

func (p *demoParticipant) CreateReader(eid rtps.EntityID) (pdp.CacheChangeReader, error) {
	return nil, nil
}

func (p *demoParticipant) SecurityManager() pdp.SecurityManager { return nil }

func loadFileConfig(path string) (pdp.FileConfig, error) {
	var fc pdp.FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}
