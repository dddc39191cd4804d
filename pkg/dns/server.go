package dns

import (
	"context"
	"fmt"
	"sync"

	"github.com/miekg/dns"
	"github.com/polisproject/polisd/pkg/log"
)

// DefaultListenAddr is the address polisd's embedded resolver listens
// on for container DNS traffic.
const DefaultListenAddr = "127.0.0.11:53"

// Server is polisd's embedded DNS server: authoritative for
// polis.local/container.local, delegating everything else upstream.
type Server struct {
	resolver   *Resolver
	dnsServer  *dns.Server
	listenAddr string
	mu         sync.RWMutex
	running    bool
}

// Config holds DNS server configuration.
type Config struct {
	ListenAddr string // default: 127.0.0.11:53
}

// NewServer creates a DNS server backed by manager.
func NewServer(manager *Manager, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}

	return &Server{
		resolver:   NewResolver(manager),
		listenAddr: config.ListenAddr,
	}
}

// Start starts the DNS server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("dns: server already running")
	}
	s.running = true
	s.mu.Unlock()

	log.Logger.Info().Str("component", "dns").Str("address", s.listenAddr).Msg("starting DNS server")

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleDNSQuery)

	s.dnsServer = &dns.Server{
		Addr:    s.listenAddr,
		Net:     "udp",
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.dnsServer.ListenAndServe(); err != nil {
			log.Logger.Error().Err(err).Str("component", "dns").Msg("DNS server error")
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Stop()
	default:
		log.Logger.Info().Str("component", "dns").Str("address", s.listenAddr).Msg("DNS server started successfully")
		return nil
	}
}

// Stop stops the DNS server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	log.Logger.Info().Str("component", "dns").Msg("stopping DNS server")

	if s.dnsServer != nil {
		if err := s.dnsServer.Shutdown(); err != nil {
			log.Logger.Error().Err(err).Str("component", "dns").Msg("error stopping DNS server")
			return err
		}
	}

	s.running = false
	log.Logger.Info().Str("component", "dns").Msg("DNS server stopped")
	return nil
}

// handleDNSQuery handles incoming DNS queries: local zones first, then
// upstream delegation for anything that misses or isn't A/CNAME.
func (s *Server) handleDNSQuery(w dns.ResponseWriter, r *dns.Msg) {
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true

	if len(r.Question) > 0 {
		q := r.Question[0]
		log.Logger.Debug().Str("component", "dns").Str("query", q.Name).Uint16("type", q.Qtype).Msg("DNS query received")
	}

	for _, q := range r.Question {
		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeCNAME {
			s.forwardQuery(w, r)
			return
		}

		answers, err := s.resolver.Resolve(q.Name, q.Qtype)
		if err != nil || len(answers) == 0 {
			s.forwardQuery(w, r)
			return
		}

		msg.Answer = append(msg.Answer, answers...)
	}

	if err := w.WriteMsg(msg); err != nil {
		log.Logger.Error().Err(err).Str("component", "dns").Msg("failed to write DNS response")
	}
}

// forwardQuery forwards a DNS query to the upstream server list in order.
func (s *Server) forwardQuery(w dns.ResponseWriter, r *dns.Msg) {
	client := &dns.Client{Net: "udp"}

	for _, upstream := range s.resolver.manager.UpstreamServers() {
		resp, _, err := client.Exchange(r, upstream)
		if err != nil {
			log.Logger.Debug().Err(err).Str("component", "dns").Str("upstream", upstream).Msg("failed to forward query to upstream")
			continue
		}
		if err := w.WriteMsg(resp); err != nil {
			log.Logger.Error().Err(err).Str("component", "dns").Msg("failed to write forwarded DNS response")
		}
		return
	}

	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Rcode = dns.RcodeServerFailure
	if err := w.WriteMsg(msg); err != nil {
		log.Logger.Error().Err(err).Str("component", "dns").Msg("failed to write DNS error response")
	}
}

// IsRunning returns true if the DNS server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
