// Package ctlplane implements the Control Service (§4.5): a net/rpc
// server exposing rule CRUD, statistics and system-info fetch, event
// stream subscription, data-plane restart, and configuration
// backup/restore, serialising every Rule Store mutation through a
// single writer per §5.
//
// Grounded directly on the teacher's internal/ctlplane/server.go being
// the literal control-plane RPC server: the same net/rpc +
// net.Listener("unix", ...) transport, the same func(args *XArgs, reply
// *XReply) error method shape, and the same Response{Success, Message}
// envelope convention, adapted here from the teacher's sprawling
// network/DHCP/DNS/VPN surface down to the firewall-core operations
// this module covers.
package ctlplane

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"os"
	"sync"
	"sync/atomic"
	"time"

	werrors "github.com/wardfw/ward/internal/errors"
	"github.com/wardfw/ward/internal/events"
	"github.com/wardfw/ward/internal/logging"
	"github.com/wardfw/ward/internal/maps"
	"github.com/wardfw/ward/internal/rulestore"
)

// RestartHook reloads a downstream data-plane stage's map attachment.
// Registered by the daemon at startup; invoked by RestartDataPlane.
type RestartHook func(ctx context.Context) error

type subscription struct {
	ch     <-chan events.Event
	cancel func()
}

// defaultRestartTimeout is used by RestartDataPlane when neither the
// request nor SetRestartTimeout supplies one.
const defaultRestartTimeout = 30 * time.Second

// Server is the Control Service.
type Server struct {
	substrate      *maps.Substrate
	rules          *rulestore.Store
	pipeline       *events.Pipeline
	logger         *logging.Logger
	startedAt      time.Time
	maxRules       int
	restartHook    RestartHook
	restartTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener

	subMu   sync.Mutex
	subs    map[string]*subscription
	nextSub uint64

	restoring atomic.Bool
}

// New constructs a Server. pipeline may be nil, in which case the
// event-stream operations return an empty stream instead of failing.
// New also registers a ChangeHook on rules so every committed rule
// mutation publishes a config-change event on pipeline, per §4.4.
func New(substrate *maps.Substrate, rules *rulestore.Store, pipeline *events.Pipeline, maxRules int, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	s := &Server{
		substrate:      substrate,
		rules:          rules,
		pipeline:       pipeline,
		logger:         logger,
		startedAt:      time.Now(),
		maxRules:       maxRules,
		restartTimeout: defaultRestartTimeout,
		subs:           make(map[string]*subscription),
	}
	if rules != nil {
		rules.OnChange(s.publishChangeNotice)
	}
	return s
}

// SetRestartHook registers the callback RestartDataPlane invokes.
func (s *Server) SetRestartHook(h RestartHook) {
	s.restartHook = h
}

// SetRestartTimeout overrides the default deadline RestartDataPlane
// applies when a request doesn't supply its own, per §6's
// restart_timeout_ms config option.
func (s *Server) SetRestartTimeout(d time.Duration) {
	if d > 0 {
		s.restartTimeout = d
	}
}

// publishChangeNotice translates a committed Rule Store mutation into a
// config-change Event and publishes it on the pipeline, per §4.4 ("emit
// config-change") and §4.6 (config-change carries its own, unlimited
// rate-limit entry).
func (s *Server) publishChangeNotice(notice rulestore.ChangeNotice) {
	if s.pipeline == nil {
		return
	}
	s.pipeline.Emit(events.Event{
		Kind:     events.KindConfigChange,
		Severity: events.SeverityLow,
		RuleID:   notice.RuleID,
		Message:  "rule " + notice.Kind,
	})
}

// emitRestoreRejected publishes the single config-change event Scenario
// 6 expects when a restore is rejected (e.g. VersionIncompatible): the
// rule store is left unchanged, but the rejection itself is reported.
func (s *Server) emitRestoreRejected(cause error) {
	if s.pipeline == nil {
		return
	}
	s.pipeline.Emit(events.Event{
		Kind:     events.KindConfigChange,
		Severity: events.SeverityHigh,
		Message:  "restore-rejected",
		Metadata: map[string]string{"error": cause.Error()},
	})
}

// Start listens on addr (a "unix:" prefixed path, or a TCP address) and
// serves RPC connections in the background.
func (s *Server) Start(addr string) error {
	network, address := parseBindAddress(addr)
	if network == "unix" {
		os.Remove(address)
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return werrors.Wrapf(err, werrors.KindInternal, "listen on %s", addr)
	}
	return s.StartWithListener(listener)
}

func parseBindAddress(addr string) (network, address string) {
	const unixPrefix = "unix:"
	if len(addr) > len(unixPrefix) && addr[:len(unixPrefix)] == unixPrefix {
		return "unix", addr[len(unixPrefix):]
	}
	return "tcp", addr
}

// StartWithListener registers the RPC service against listener and
// accepts connections in the background until the listener is closed.
func (s *Server) StartWithListener(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	rpcServer := rpc.NewServer()
	if err := rpcServer.Register(s); err != nil {
		return werrors.Wrapf(err, werrors.KindInternal, "register rpc service")
	}

	s.logger.Info("control service listening", "address", listener.Addr().String())

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("control service accept error", "error", err)
				continue
			}
			go rpcServer.ServeConn(conn)
		}
	}()
	return nil
}

// Close stops accepting new connections and releases subscriptions.
func (s *Server) Close() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	s.subMu.Lock()
	for id, sub := range s.subs {
		sub.cancel()
		delete(s.subs, id)
	}
	s.subMu.Unlock()

	if listener != nil {
		return listener.Close()
	}
	return nil
}

// withDeadline runs fn, failing with KindTimeout if it has not returned
// by deadlineMS milliseconds from now (0 = no deadline), per §5's
// per-request deadline requirement.
func withDeadline(deadlineMS int64, fn func(ctx context.Context) error) error {
	if deadlineMS <= 0 {
		return fn(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(deadlineMS)*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return werrors.New(werrors.KindTimeout, "request exceeded its deadline")
	}
}

func fail(resp *Response, err error) {
	resp.Success = false
	resp.Message = err.Error()
	resp.ErrorCode = errorCode(err)
}

func ok(resp *Response) {
	resp.Success = true
}
