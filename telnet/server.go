// Package telnet is the console's line-oriented TCP transport. Each session
// reads commands a line at a time, hands them to the shared command
// processor and writes the CRLF-terminated response back through a per-client
// writer with a deadline, so one stuck peer can never wedge the console.
// Live watch streaming (watch_*) is session state and is handled here rather
// than in the command table.
package telnet

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"diagconsole/commands"
	"diagconsole/param"
	"diagconsole/watch"
)

const (
	maxLineBytes    = 4096
	sendTimeout     = 5 * time.Second
	defaultMaxConns = 16
)

// ServerOptions configures the transport.
type ServerOptions struct {
	Port            int
	MaxConnections  int
	WelcomeMessage  string
	WatchBasePeriod time.Duration // sampling handler period, floor for watch_rate
}

// Server accepts diagnostic sessions and routes their command lines.
type Server struct {
	opts      ServerOptions
	processor *commands.Processor
	registry  *param.Registry

	listener     net.Listener
	clients      map[string]*Client
	clientsMutex sync.RWMutex
	shutdown     chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

// Client is one connected session.
type Client struct {
	conn     net.Conn
	remote   string
	writeMu  sync.Mutex
	streamer *watch.Streamer
}

// Send writes one response line (CRLF appended) under the client's write
// lock with a deadline.
func (c *Client) Send(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

// NewServer wires the transport to the shared processor and registry. The
// registry is needed locally to resolve watch_channel parameter IDs.
func NewServer(opts ServerOptions, processor *commands.Processor, registry *param.Registry) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = defaultMaxConns
	}
	if opts.WatchBasePeriod <= 0 {
		opts.WatchBasePeriod = 10 * time.Millisecond
	}
	return &Server{
		opts:      opts,
		processor: processor,
		registry:  registry,
		clients:   make(map[string]*Client),
		shutdown:  make(chan struct{}),
	}
}

// Start binds the listener and begins accepting sessions.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.opts.Port)
	listener, err := listenWithReuse(addr)
	if err != nil {
		return fmt.Errorf("telnet: start server: %w", err)
	}
	s.listener = listener
	log.Printf("Console listening on %s", listener.Addr())

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Addr returns the bound listener address (useful with Port 0).
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every active session.
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.clientsMutex.Lock()
		for _, client := range s.clients {
			_ = client.conn.Close()
		}
		s.clientsMutex.Unlock()
	})
	s.wg.Wait()
}

// ClientCount reports the number of connected sessions.
func (s *Server) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// listenWithReuse enables SO_REUSEADDR so the console can rebind quickly
// after a restart; it falls back to a plain listen when the control call is
// rejected.
func listenWithReuse(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			controlErr := c.Control(func(fd uintptr) {
				sockErr = setReuseAddr(fd)
			})
			if controlErr != nil {
				return controlErr
			}
			return sockErr
		},
	}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return net.Listen("tcp", addr)
	}
	return listener, nil
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			log.Printf("Accept failed: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	remote := conn.RemoteAddr().String()

	s.clientsMutex.Lock()
	if len(s.clients) >= s.opts.MaxConnections {
		s.clientsMutex.Unlock()
		log.Printf("Rejecting %s: connection limit (%d) reached", remote, s.opts.MaxConnections)
		_, _ = conn.Write([]byte("ERR, Too many connections!\r\n"))
		_ = conn.Close()
		return
	}
	client := &Client{conn: conn, remote: remote}
	client.streamer = watch.NewStreamer(s.opts.WatchBasePeriod, client.Send)
	s.clients[remote] = client
	s.clientsMutex.Unlock()

	log.Printf("Session opened from %s", remote)
	defer func() {
		client.streamer.Stop()
		_ = conn.Close()
		s.clientsMutex.Lock()
		delete(s.clients, remote)
		s.clientsMutex.Unlock()
		log.Printf("Session closed from %s", remote)
	}()

	if s.opts.WelcomeMessage != "" {
		if err := client.Send(s.opts.WelcomeMessage); err != nil {
			return
		}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxLineBytes), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		resp, handled := s.handleWatchCommand(client, line)
		if !handled {
			resp = s.processor.ProcessCommand(line)
		}
		if resp == commands.ByeResponse {
			_ = client.Send("OK, Bye!")
			return
		}
		if resp == "" {
			continue
		}
		if err := client.Send(resp); err != nil {
			log.Printf("Send to %s failed: %v", remote, err)
			return
		}
	}
	select {
	case <-s.shutdown:
	default:
		if err := scanner.Err(); err != nil {
			log.Printf("Session %s read error: %v", remote, err)
		}
	}
}
