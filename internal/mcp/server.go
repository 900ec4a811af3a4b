package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/claudecontext/claude-context/internal/pkg/logger"
)

// Server speaks line-delimited JSON-RPC over a unix socket, TCP, or stdio.
type Server struct {
	addr    string
	network string
	handler *Handler

	connsMu sync.RWMutex
	conns   map[net.Conn]struct{}

	listener net.Listener
	log      *logger.Logger
}

// ServerConfig selects the transport.
type ServerConfig struct {
	SocketPath string
	TCPAddr    string
	Handler    *Handler
	Log        *logger.Logger
}

// NewServer creates a server. With neither socket path nor TCP address, a
// default socket under the user's runtime directory is used.
func NewServer(cfg ServerConfig) *Server {
	network := "unix"
	addr := cfg.SocketPath

	if cfg.TCPAddr != "" {
		network = "tcp"
		addr = cfg.TCPAddr
	} else if addr == "" {
		home, _ := os.UserHomeDir()
		addr = filepath.Join(home, ".claude-context", "mcp.sock")
	}

	log := cfg.Log
	if log == nil {
		log = logger.Default()
	}

	return &Server{
		addr:    addr,
		network: network,
		handler: cfg.Handler,
		conns:   make(map[net.Conn]struct{}),
		log:     log,
	}
}

// Start listens until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	var listener net.Listener
	var err error

	if s.network == "unix" {
		if err := os.MkdirAll(filepath.Dir(s.addr), 0755); err != nil {
			return fmt.Errorf("failed to create socket dir: %w", err)
		}
		os.Remove(s.addr)

		listener, err = net.Listen("unix", s.addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		}
		os.Chmod(s.addr, 0600)
	} else {
		listener, err = net.Listen("tcp", s.addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		}
	}

	s.listener = listener
	s.log.Info("MCP server listening", "network", s.network, "addr", s.addr)

	go s.acceptLoop(ctx)

	<-ctx.Done()
	return s.Shutdown()
}

// ServeStdio runs the protocol over stdin/stdout, the transport interactive
// clients spawn.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.serveStream(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serveStream(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	var writeMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if len(line) <= 1 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			writeMu.Lock()
			writeResponse(out, &Response{JSONRPC: "2.0", Error: &Error{Code: ErrParse, Message: "Parse error"}})
			writeMu.Unlock()
			continue
		}

		response := s.handler.Handle(ctx, &req)
		if response != nil && req.ID != nil {
			writeMu.Lock()
			writeResponse(out, response)
			writeMu.Unlock()
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Error("Accept error", "error", err)
				continue
			}
		}

		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
	}()

	s.log.Debug("Client connected")
	if err := s.serveStream(ctx, conn, conn); err != nil {
		s.log.Debug("Client disconnected", "error", err)
	}
}

func writeResponse(out io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	out.Write(data)
	out.Write([]byte("\n"))
}

// Shutdown closes the listener and open connections.
func (s *Server) Shutdown() error {
	s.log.Info("Shutting down MCP server")

	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	if s.network == "unix" {
		os.Remove(s.addr)
	}
	return nil
}
