// Package service is the facade every node program starts from.
//
// A Service names a process for its log lines and builds the transport pieces that
// process needs: a transport.Client for talking to a remote node (Connect) and a
// server.Server for answering requests (Listen). Both receive the Service's logger and
// the options derived from its configuration.
package service

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"node-rpc/config"
	"node-rpc/middleware"
	"node-rpc/server"
	"node-rpc/transport"
)

// Service names a node and creates its clients and servers.
type Service struct {
	name   string
	logger *zap.Logger
	cfg    *config.Config
}

// Option customises a Service.
type Option func(*Service)

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithConfig sets the configuration Connect and Listen take their options from.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// New creates a Service called name. Without WithLogger it logs to stdout/stderr as
// described on NewLogger.
func New(name string, opts ...Option) *Service {
	s := &Service{name: name}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if s.logger == nil {
		logger, err := NewLogger(name, s.cfg.Log)
		if err != nil {
			// Keep the console output; only the file copy is lost.
			logger = newLogger(name, parseLevel(s.cfg.Log.Level), zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr), nil)
			logger.Warn("Failed to open log file", zap.Error(err))
		}
		s.logger = logger
	}
	return s
}

func (s *Service) Name() string { return s.name }

func (s *Service) Logger() *zap.Logger { return s.logger }

func (s *Service) Config() *config.Config { return s.cfg }

// Log writes message at level. Critical lines go to stderr.
func (s *Service) Log(level LogLevel, message string) {
	switch level {
	case Warning:
		s.logger.Warn(message)
	case Critical:
		s.logger.Error(message)
	default:
		s.logger.Info(message)
	}
}

// Connect returns a Client for the node at addr. It never fails: if addr can't be
// reached the failure is logged as critical and every request resolves to nil.
// The caller must Close the Client.
func (s *Service) Connect(addr string) *transport.Client {
	return transport.Dial(addr, transport.Options{
		QueueSize:    s.cfg.Client.QueueSize,
		DialTimeout:  s.cfg.Client.DialTimeout,
		MaxFrameSize: s.cfg.Client.MaxFrameSize,
		ReadTimeout:  s.cfg.Client.ReadTimeout,
	}, s.logger)
}

// Listen starts a Server on port, 0 picking an ephemeral port. The configured timeout
// and rate limit are installed as middleware. A bind failure is returned and the
// process should treat it as fatal. The caller must Close the Server.
//
// While most request names are freely programmable, "quit" and "noop" are reserved; see
// the server package.
func (s *Service) Listen(port int) (*server.Server, error) {
	svr, err := server.Listen(port, server.Options{
		MaxFrameSize: s.cfg.Server.MaxFrameSize,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		FrameTimeout: s.cfg.Server.FrameTimeout,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	svr.Use(middleware.LoggingMiddleware(s.logger))
	if s.cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(s.cfg.Server.RateLimit, s.cfg.Server.RateBurst))
	}
	if s.cfg.Server.HandlerTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(s.cfg.Server.HandlerTimeout))
	}
	return svr, nil
}

// Sync flushes buffered log lines. Call it before the process exits.
func (s *Service) Sync() {
	_ = s.logger.Sync()
}
