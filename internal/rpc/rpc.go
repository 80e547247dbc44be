// Package rpc provides Unix socket IPC between the lullaby controller and
// the local command-line client.
package rpc

import (
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"
	"time"

	"github.com/rs/zerolog"

	"lullaby/internal/liveness"
	"lullaby/internal/store"
)

// Controller is the subset of the controller the RPC service drives.
type Controller interface {
	RequestWake()
	RequestSleep()
	Snapshot() liveness.Snapshot
}

// History lists journaled transitions, newest first.
type History interface {
	Recent(limit int) ([]store.Record, error)
}

// ErrNoHistory is returned by History when the controller runs without
// a journal.
var ErrNoHistory = errors.New("rpc: journal disabled")

// Service is the RPC service exposed by the controller.
type Service struct {
	ctrl    Controller
	history History
	log     zerolog.Logger
}

// WakeArgs is the request for Wake.
type WakeArgs struct{}

// SleepArgs is the request for Sleep.
type SleepArgs struct{}

// AckReply acknowledges a fire-and-forget request.
type AckReply struct {
	OK bool
}

// StatusArgs is the request for Status.
type StatusArgs struct{}

// StatusReply is the response for Status.
type StatusReply struct {
	Status     liveness.Status
	ChangedAt  time.Time
	LastBeacon time.Time
}

// HistoryArgs is the request for History.
type HistoryArgs struct {
	Limit int
}

// HistoryReply is the response for History.
type HistoryReply struct {
	Records []store.Record
}

// Wake broadcasts a magic packet for the target.
func (s *Service) Wake(args *WakeArgs, reply *AckReply) error {
	s.log.Debug().Msg("Wake requested over RPC")
	s.ctrl.RequestWake()
	reply.OK = true
	return nil
}

// Sleep broadcasts a sleep command for the target.
func (s *Service) Sleep(args *SleepArgs, reply *AckReply) error {
	s.log.Debug().Msg("Sleep requested over RPC")
	s.ctrl.RequestSleep()
	reply.OK = true
	return nil
}

// Status returns the tracker's current view of the target.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	snap := s.ctrl.Snapshot()
	reply.Status = snap.Status
	reply.ChangedAt = snap.ChangedAt
	reply.LastBeacon = snap.LastBeacon
	return nil
}

// History returns up to args.Limit journaled transitions, newest first.
func (s *Service) History(args *HistoryArgs, reply *HistoryReply) error {
	if s.history == nil {
		return ErrNoHistory
	}
	records, err := s.history.Recent(args.Limit)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	reply.Records = records
	return nil
}

// Server is a running RPC listener.
type Server struct {
	listener net.Listener
	path     string
	done     chan struct{}
}

// StartServer starts the Unix socket RPC server. history may be nil.
func StartServer(socketPath string, ctrl Controller, history History, log zerolog.Logger) (*Server, error) {
	log = log.With().Str("component", "rpc").Logger()
	service := &Service{ctrl: ctrl, history: history, log: log}

	server := netrpc.NewServer()
	if err := server.RegisterName("Service", service); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove existing socket file if present
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	s := &Server{listener: listener, path: socketPath, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return s, nil
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	<-s.done
	os.Remove(s.path)
	return err
}

// Client is a client for the lullaby RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Wake asks the controller to send a magic packet.
func (c *Client) Wake() error {
	return c.client.Call("Service.Wake", &WakeArgs{}, &AckReply{})
}

// Sleep asks the controller to send a sleep command.
func (c *Client) Sleep() error {
	return c.client.Call("Service.Sleep", &SleepArgs{}, &AckReply{})
}

// Status fetches the controller's view of the target.
func (c *Client) Status() (StatusReply, error) {
	var reply StatusReply
	err := c.client.Call("Service.Status", &StatusArgs{}, &reply)
	return reply, err
}

// History fetches up to limit journaled transitions, newest first.
func (c *Client) History(limit int) ([]store.Record, error) {
	reply := &HistoryReply{}
	if err := c.client.Call("Service.History", &HistoryArgs{Limit: limit}, reply); err != nil {
		return nil, err
	}
	return reply.Records, nil
}
