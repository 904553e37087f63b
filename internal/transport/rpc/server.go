// Package rpc exposes the engine's commands and queries over JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/service"
)

// ServiceName is the name the handler is registered under.
const ServiceName = "Flyspace"

// Server serves JSON-RPC connections.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the engine service.
func NewServer(svc *service.Service) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts RPC connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			log.Printf("RPC accept error: %v", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Flyspace RPC methods.
type Handler struct {
	service *service.Service
}

// Empty is the argument of methods that take none.
type Empty struct{}

// AckResponse is a generic OK response.
type AckResponse struct {
	OK bool `json:"ok"`
}

// Trigger starts a script execution.
func (h *Handler) Trigger(req *domain.TriggerRequest, resp *domain.TriggerResponse) error {
	if req == nil {
		return errors.New("trigger request is required")
	}

	result, err := h.service.Trigger(context.Background(), *req)
	if err != nil {
		return err
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// NewEval replays the suspended step with a new prompt.
func (h *Handler) NewEval(req *domain.NewEvalRequest, resp *AckResponse) error {
	if req == nil {
		return errors.New("new eval request is required")
	}

	if err := h.service.NewEval(context.Background(), *req); err != nil {
		return err
	}
	if resp != nil {
		resp.OK = true
	}
	return nil
}

// CompleteStep finalizes the suspended step and resumes the script.
func (h *Handler) CompleteStep(_ *Empty, resp *AckResponse) error {
	if err := h.service.CompleteStep(context.Background()); err != nil {
		return err
	}
	if resp != nil {
		resp.OK = true
	}
	return nil
}

// State returns the whole execution state.
func (h *Handler) State(_ *Empty, resp *domain.Snapshot) error {
	if resp != nil {
		*resp = h.service.State()
	}
	return nil
}

// Files lists runnable entry points.
func (h *Handler) Files(_ *Empty, resp *domain.FilesResponse) error {
	result, err := h.service.Files()
	if err != nil {
		return err
	}
	if resp != nil {
		*resp = *result
	}
	return nil
}
