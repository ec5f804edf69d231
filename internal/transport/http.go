package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"
	"github.com/valyala/fasthttp"

	"github.com/dreamware/solvegrid/internal/logging"
)

const (
	// ExchangePath is the only path exchanges are accepted on.
	ExchangePath = "/"

	contentType = "application/xml"

	// DefaultExchangeTimeout bounds how long a peer waits for its reply.
	DefaultExchangeTimeout = 10 * time.Second
)

// exchange is an HTTP request parked until the dispatcher closes it.
type exchange struct {
	id       string
	request  []byte
	response []byte
	done     chan struct{}
	mu       sync.Mutex
	once     sync.Once
}

func (e *exchange) ID() string { return e.id }

func (e *exchange) finish() {
	e.once.Do(func() { close(e.done) })
}

func (e *exchange) reply() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.response
}

// HTTPServer is a Transport where every POST to ExchangePath is one exchange.
//
// The fasthttp handler hands the request body to Accept and blocks until the
// dispatcher calls Close or the exchange timeout passes, then writes whatever
// was given to Send as the response body.
type HTTPServer struct {
	server    *fasthttp.Server
	ln        net.Listener
	exchanges chan *exchange
	closed    chan struct{}
	logger    hclog.Logger
	addr      string
	timeout   time.Duration
	closeOnce sync.Once
	mu        sync.Mutex
}

var _ Transport = (*HTTPServer)(nil)

// NewHTTPServer creates a server that will listen on addr. A zero timeout
// uses DefaultExchangeTimeout.
func NewHTTPServer(addr string, timeout time.Duration, logger hclog.Logger) *HTTPServer {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	s := &HTTPServer{
		exchanges: make(chan *exchange),
		closed:    make(chan struct{}),
		logger:    logging.OrDiscard(logger),
		addr:      addr,
		timeout:   timeout,
	}
	s.server = &fasthttp.Server{
		Handler:      s.handle,
		Name:         "solvegrid",
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	return s
}

// ListenOn makes Listen serve on ln instead of opening addr.
func (s *HTTPServer) ListenOn(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ln = ln
}

// Listen opens the listener, if ListenOn was not used, and starts serving.
func (s *HTTPServer) Listen() error {
	s.mu.Lock()
	if s.ln == nil {
		ln, err := net.Listen("tcp", s.addr)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("listen %s: %w", s.addr, err)
		}
		s.ln = ln
	}
	ln := s.ln
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(ln); err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Error("exchange server stopped", "error", err)
			}
		}
	}()

	s.logger.Info("accepting exchanges", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or the configured one before Listen.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

func (s *HTTPServer) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != ExchangePath {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}

	ex := &exchange{
		id:      ulid.Make().String(),
		request: append([]byte(nil), ctx.PostBody()...),
		done:    make(chan struct{}),
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.exchanges <- ex:
	case <-s.closed:
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	case <-timer.C:
		s.logger.Warn("exchange not accepted in time", "exchange", ex.id)
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}

	select {
	case <-ex.done:
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType(contentType)
		ctx.SetBody(ex.reply())
	case <-timer.C:
		s.logger.Warn("exchange timed out", "exchange", ex.id)
		ctx.SetStatusCode(fasthttp.StatusGatewayTimeout)
	case <-s.closed:
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	}
}

// Accept waits for the next exchange.
func (s *HTTPServer) Accept(ctx context.Context) (Conn, error) {
	select {
	case ex := <-s.exchanges:
		return ex, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrClosed
	}
}

func asExchange(conn Conn) (*exchange, error) {
	ex, ok := conn.(*exchange)
	if !ok || ex == nil {
		return nil, ErrForeignConn
	}
	return ex, nil
}

// Receive returns the request body of the exchange.
func (s *HTTPServer) Receive(conn Conn) ([]byte, error) {
	ex, err := asExchange(conn)
	if err != nil {
		return nil, err
	}
	return ex.request, nil
}

// Send stores the reply; it is written when the exchange is closed.
func (s *HTTPServer) Send(conn Conn, payload []byte) error {
	ex, err := asExchange(conn)
	if err != nil {
		return err
	}
	ex.mu.Lock()
	ex.response = payload
	ex.mu.Unlock()
	return nil
}

// Close releases the waiting peer. Closing twice is a no-op.
func (s *HTTPServer) Close(conn Conn) error {
	ex, err := asExchange(conn)
	if err != nil {
		return err
	}
	ex.finish()
	return nil
}

// Shutdown stops accepting exchanges and waits for open ones to drain or
// for ctx to end.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })

	err := s.server.ShutdownWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown exchange server: %w", err)
	}
	s.logger.Info("exchange server stopped")
	return nil
}
