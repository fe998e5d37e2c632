package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/ajitpratap0/transcript-mcp/pkg/config"
	mcperrors "github.com/ajitpratap0/transcript-mcp/pkg/errors"
	"github.com/ajitpratap0/transcript-mcp/pkg/logging"
	"github.com/ajitpratap0/transcript-mcp/pkg/protocol"
	"github.com/ajitpratap0/transcript-mcp/pkg/session"
	"github.com/ajitpratap0/transcript-mcp/pkg/transport"
)

const (
	// SessionIDHeader carries the session id. It wins over SessionIDParam.
	SessionIDHeader = "Mcp-Session-Id"
	SessionIDParam  = "sessionId"

	maxBodyBytes = 4 << 20
)

// AdmissionObserver records rejected session creations by error code.
type AdmissionObserver interface {
	AdmissionRejected(code string)
}

// Router classifies every request on the MCP surface and binds it to a
// session in the registry.
type Router struct {
	registry   *session.Registry
	dispatcher transport.Dispatcher
	probe      *transport.Probe
	guard      VersionGuard
	origin     originPolicy
	logger     logging.Logger
	admissions AdmissionObserver
	timeout    time.Duration

	// ctx bounds asynchronous work started for stream sessions.
	ctx    context.Context
	cancel context.CancelFunc

	// mu orders every wg.Add against draining. wg counts stream dispatches
	// and session creations in progress.
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

var errDraining = errors.New("router is draining")

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithProbe replaces the process-wide transport probe.
func WithProbe(p *transport.Probe) RouterOption {
	return func(rt *Router) {
		rt.probe = p
	}
}

func WithRouterLogger(l logging.Logger) RouterOption {
	return func(rt *Router) {
		rt.logger = l
	}
}

func WithAdmissionObserver(o AdmissionObserver) RouterOption {
	return func(rt *Router) {
		rt.admissions = o
	}
}

// NewRouter creates a router over registry. d runs every JSON-RPC message.
func NewRouter(cfg config.Config, registry *session.Registry, d transport.Dispatcher, opts ...RouterOption) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	rt := &Router{
		registry:   registry,
		dispatcher: d,
		guard:      VersionGuard{Supported: cfg.ProtocolVersion},
		origin:     newOriginPolicy(cfg),
		logger:     logging.Nop(),
		timeout:    cfg.RequestTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.probe == nil {
		rt.probe = transport.NewProbe(nil)
	}
	rt.logger = rt.logger.WithFields(logging.String("component", "router"))
	return rt
}

// ServeHTTP handles HTTP requests
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.origin.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := rt.origin.check(r); err != nil {
		mcperrors.WriteStatus(w, http.StatusForbidden, err)
		return
	}
	if err := rt.guard.Check(r); err != nil {
		mcperrors.Write(w, err)
		return
	}
	if err, ok := LegacyResponse(r.URL.Path); ok {
		rt.log(r).Info("Deprecated endpoint requested",
			logging.String("path", r.URL.Path),
			logging.String("method", r.Method))
		mcperrors.Write(w, err)
		return
	}
	if r.URL.Path != Endpoint {
		notFound(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rt.handleGet(w, r)
	case http.MethodPost:
		rt.handlePost(w, r)
	case http.MethodDelete:
		rt.handleDelete(w, r)
	default:
		notFound(w)
	}
}

// RouteLabel names the route r falls in, for metrics and spans.
func RouteLabel(r *http.Request) string {
	switch {
	case r.Method == http.MethodOptions:
		return "preflight"
	case IsLegacyPath(r.URL.Path):
		return "legacy"
	case r.URL.Path == Endpoint:
		return "mcp"
	default:
		return "unmatched"
	}
}

// Drain makes the router refuse new sessions and stream dispatches with 503
// and cancels the dispatches in flight. It does not wait for them.
func (rt *Router) Drain() {
	rt.mu.Lock()
	rt.draining = true
	rt.mu.Unlock()
	rt.cancel()
}

// Close drains the router and waits for in-flight stream dispatches and
// session creations until ctx is done. Sessions created before the wait
// returns are still in the registry; the caller closes them.
func (rt *Router) Close(ctx context.Context) error {
	rt.Drain()
	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admit reserves a wait group slot unless the router is draining. The caller
// releases it with rt.wg.Done.
func (rt *Router) admit() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.draining {
		return false
	}
	rt.wg.Add(1)
	return true
}

func (rt *Router) isDraining() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.draining
}

func (rt *Router) createSession(kind session.Kind, handle session.Handle) (*session.Entry, error) {
	if !rt.admit() {
		return nil, errDraining
	}
	defer rt.wg.Done()
	return rt.registry.Create(kind, handle)
}

// withTimeout bounds one message dispatch by the request timeout.
func (rt *Router) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if rt.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, rt.timeout)
}

// log returns the router logger carrying the request id of r.
func (rt *Router) log(r *http.Request) logging.Logger {
	return rt.logger.WithContext(r.Context())
}

func sessionIDFrom(r *http.Request) string {
	if id := r.Header.Get(SessionIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get(SessionIDParam)
}

func notFound(w http.ResponseWriter) {
	mcperrors.WriteJSON(w, http.StatusNotFound, map[string]string{
		"code":    string(mcperrors.CodeNotFound),
		"message": "Not Found",
	})
}

func sessionNotFound(w http.ResponseWriter) {
	mcperrors.WriteSimple(w, http.StatusNotFound, mcperrors.CodeNotFound, "Session not found")
}

func (rt *Router) reject(w http.ResponseWriter, r *http.Request, err *mcperrors.Error) {
	if rt.admissions != nil {
		rt.admissions.AdmissionRejected(string(err.Code()))
	}
	rt.log(r).Warn("Session admission rejected", logging.String("code", string(err.Code())))
	mcperrors.Write(w, err)
}

func (rt *Router) unavailable(w http.ResponseWriter, r *http.Request) {
	rt.log(r).Info("Refusing work while draining", logging.String("method", r.Method))
	mcperrors.WriteStatus(w, http.StatusServiceUnavailable, mcperrors.ShuttingDown())
}

func (rt *Router) handleGet(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFrom(r)
	if id == "" {
		rt.openStream(w, r)
		return
	}

	entry, ok := rt.registry.Get(id)
	if !ok || entry.Kind() != session.KindRequestResponse {
		sessionNotFound(w)
		return
	}
	handle, ok := entry.Handle().(transport.StatelessSession)
	if !ok {
		mcperrors.Write(w, mcperrors.ServerError(errors.New("request-response entry without stateless handle")))
		return
	}

	rt.registry.Touch(id)
	defer rt.registry.Touch(id)

	notes, err := handle.Poll(r.Context())
	switch {
	case errors.Is(err, session.ErrClosed):
		sessionNotFound(w)
	case err != nil:
		rt.log(r).WithError(err).Error("Poll failed", logging.String("session_id", id))
		mcperrors.Write(w, mcperrors.ServerError(err))
	default:
		if notes == nil {
			notes = []*protocol.Notification{}
		}
		mcperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"messages": notes})
	}
}

// openStream admits a new stream session and serves it until the client
// goes away or the registry removes it. lastActivity stays unset.
func (rt *Router) openStream(w http.ResponseWriter, r *http.Request) {
	if rt.isDraining() {
		rt.unavailable(w, r)
		return
	}
	if rt.registry.IsAtCapacity() {
		rt.reject(w, r, mcperrors.TooManyClients(rt.registry.MaxClients()))
		return
	}

	stream := transport.NewStream()
	entry, err := rt.createSession(session.KindStream, stream)
	if err != nil {
		_ = stream.Close()
		switch {
		case errors.Is(err, errDraining):
			rt.unavailable(w, r)
		case errors.Is(err, session.ErrAtCapacity):
			rt.reject(w, r, mcperrors.TooManyClients(rt.registry.MaxClients()))
		default:
			rt.log(r).WithError(err).Error("Failed to create stream session")
			mcperrors.Write(w, mcperrors.ServerError(err))
		}
		return
	}
	id := entry.ID()
	logger := rt.log(r).WithFields(
		logging.String("session_id", id),
		logging.String("transport", string(session.KindStream)),
	)

	w.Header().Set(SessionIDHeader, id)
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		rt.registry.Evict(id, session.ReasonDisconnect)
		logger.WithError(err).Error("Stream upgrade failed")
		mcperrors.Write(w, mcperrors.ServerError(err))
		return
	}
	defer rt.registry.Evict(id, session.ReasonDisconnect)

	endpoint := Endpoint + "?" + SessionIDParam + "=" + url.QueryEscape(id)
	if err := stream.Send(session.EventEndpoint, endpoint); err != nil {
		logger.WithError(err).Warn("Failed to queue endpoint frame")
		return
	}

	logger.Info("Stream session opened")
	if err := stream.Serve(r.Context(), sess); err != nil && r.Context().Err() == nil {
		logger.WithError(err).Debug("Stream ended with error")
	}
	logger.Info("Stream session closed")
}

func (rt *Router) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			mcperrors.WriteSimple(w, http.StatusRequestEntityTooLarge, mcperrors.CodeInvalidRequest, "Request body too large")
			return
		}
		mcperrors.WriteSimple(w, http.StatusBadRequest, mcperrors.CodeInvalidRequest, "Invalid JSON body")
		return
	}

	msg, err := protocol.ParseMessage(body)
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidMessage) {
			mcperrors.WriteSimple(w, http.StatusBadRequest, mcperrors.CodeInvalidRequest, "Invalid JSON-RPC message")
			return
		}
		mcperrors.WriteSimple(w, http.StatusBadRequest, mcperrors.CodeInvalidRequest, "Invalid JSON body")
		return
	}

	id := sessionIDFrom(r)
	if id == "" {
		if !msg.IsRequest() || msg.Method != protocol.MethodInitialize {
			mcperrors.WriteSimple(w, http.StatusBadRequest, mcperrors.CodeInvalidRequest, "Missing session ID")
			return
		}
		rt.initialize(w, r, msg)
		return
	}

	entry, ok := rt.registry.Get(id)
	if !ok {
		sessionNotFound(w)
		return
	}
	switch entry.Kind() {
	case session.KindStream:
		rt.forwardStream(w, r, entry, msg)
	case session.KindRequestResponse:
		rt.forwardStateless(w, r, entry, msg)
	default:
		sessionNotFound(w)
	}
}

// initialize creates a request-response session for a session-less
// initialize request.
func (rt *Router) initialize(w http.ResponseWriter, r *http.Request, msg *protocol.Message) {
	if rt.isDraining() {
		rt.unavailable(w, r)
		return
	}
	factory, err := rt.probe.Optional()
	if err != nil {
		if errors.Is(err, transport.ErrUnavailable) {
			rt.reject(w, r, mcperrors.TransportUnavailable())
			return
		}
		rt.log(r).WithError(err).Error("Transport probe failed")
		mcperrors.Write(w, mcperrors.ServerError(err))
		return
	}
	if rt.registry.IsAtCapacity() {
		rt.reject(w, r, mcperrors.TooManyClients(rt.registry.MaxClients()))
		return
	}

	handle, err := factory.NewSession(rt.dispatcher)
	if err != nil {
		rt.log(r).WithError(err).Error("Failed to create request-response session")
		mcperrors.Write(w, mcperrors.ServerError(err))
		return
	}
	entry, err := rt.createSession(session.KindRequestResponse, handle)
	if err != nil {
		_ = handle.Close()
		switch {
		case errors.Is(err, errDraining):
			rt.unavailable(w, r)
		case errors.Is(err, session.ErrAtCapacity):
			rt.reject(w, r, mcperrors.TooManyClients(rt.registry.MaxClients()))
		default:
			rt.log(r).WithError(err).Error("Failed to register request-response session")
			mcperrors.Write(w, mcperrors.ServerError(err))
		}
		return
	}

	rt.log(r).Info("Request-response session opened",
		logging.String("session_id", entry.ID()),
		logging.String("transport", factory.Name()))
	w.Header().Set(SessionIDHeader, entry.ID())
	rt.forwardStateless(w, r, entry, msg)
}

func (rt *Router) forwardStateless(w http.ResponseWriter, r *http.Request, entry *session.Entry, msg *protocol.Message) {
	id := entry.ID()
	handle, ok := entry.Handle().(transport.StatelessSession)
	if !ok {
		mcperrors.Write(w, mcperrors.ServerError(errors.New("request-response entry without stateless handle")))
		return
	}

	rt.registry.Touch(id)
	defer rt.registry.Touch(id)

	ctx, cancel := rt.withTimeout(r.Context())
	defer cancel()
	resp, err := handle.HandleMessage(logging.ContextWithSessionID(ctx, id), msg)
	switch {
	case errors.Is(err, session.ErrClosed):
		sessionNotFound(w)
	case err != nil:
		rt.log(r).WithError(err).Error("Message handling failed", logging.String("session_id", id))
		mcperrors.Write(w, mcperrors.ServerError(err))
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		rt.log(r).Warn("Request timed out",
			logging.String("session_id", id),
			logging.String("method", msg.Method))
		mcperrors.Write(w, mcperrors.RequestTimeout(msg.IDValue()))
	case resp == nil:
		w.WriteHeader(http.StatusAccepted)
	default:
		mcperrors.WriteJSON(w, http.StatusOK, resp)
	}
}

type doneNotifier interface {
	Done() <-chan struct{}
}

// forwardStream accepts msg for a stream session and delivers its response
// as a message frame once dispatch completes. A dispatch that outlives the
// request timeout gets an error frame instead and its late response is
// dropped.
func (rt *Router) forwardStream(w http.ResponseWriter, r *http.Request, entry *session.Entry, msg *protocol.Message) {
	id := entry.ID()
	ch, ok := entry.Stream()
	if !ok {
		mcperrors.Write(w, mcperrors.ServerError(errors.New("stream entry without channel")))
		return
	}
	if !rt.admit() {
		rt.unavailable(w, r)
		return
	}

	logger := rt.log(r).WithFields(
		logging.String("session_id", id),
		logging.String("transport", string(session.KindStream)),
	)
	rt.registry.Touch(id)

	ctx, cancel := rt.withTimeout(rt.ctx)
	ctx = logging.ContextWithRequestID(ctx, logging.RequestIDFromContext(r.Context()))
	ctx = logging.ContextWithSessionID(ctx, id)
	go func() {
		defer rt.wg.Done()
		defer cancel()
		defer rt.registry.Touch(id)
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Stream dispatch panicked", logging.Any("panic", rec))
			}
		}()

		send := func(event string, v interface{}) {
			if _, live := rt.registry.Get(id); !live {
				logger.Debug("Session gone, dropping frame")
				return
			}
			if err := ch.Send(event, v); err != nil {
				logger.WithError(err).Warn("Failed to deliver frame", logging.String("event", event))
			}
		}
		// reply sends either the response or the timeout frame, never both.
		var reply sync.Once
		timedOut := func() {
			logger.Warn("Request timed out", logging.String("method", msg.Method))
			send(session.EventError, mcperrors.RequestTimeout(msg.IDValue()).ToJSON())
		}

		var closed <-chan struct{}
		if dn, ok := ch.(doneNotifier); ok {
			closed = dn.Done()
		}
		stop := make(chan struct{})
		watched := make(chan struct{})
		defer func() {
			close(stop)
			<-watched
		}()
		go func() {
			defer close(watched)
			select {
			case <-closed:
				cancel()
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					reply.Do(timedOut)
				}
			case <-stop:
			}
		}()

		resp := rt.dispatcher.Dispatch(ctx, id, msg, func(n *protocol.Notification) { send(session.EventMessage, n) })
		if resp != nil {
			reply.Do(func() {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					timedOut()
					return
				}
				send(session.EventMessage, resp)
			})
		}
	}()

	mcperrors.WriteJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (rt *Router) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFrom(r)
	if id == "" {
		mcperrors.WriteSimple(w, http.StatusBadRequest, mcperrors.CodeInvalidRequest, "Missing session ID")
		return
	}

	entry, ok := rt.registry.Get(id)
	if !ok || entry.Kind() != session.KindRequestResponse {
		sessionNotFound(w)
		return
	}
	handle, ok := entry.Handle().(transport.StatelessSession)
	if !ok {
		sessionNotFound(w)
		return
	}

	if err := handle.Terminate(r.Context()); err != nil && !errors.Is(err, session.ErrClosed) {
		rt.log(r).WithError(err).Warn("Terminate failed", logging.String("session_id", id))
	}
	rt.registry.Evict(id, session.ReasonTerminated)
	mcperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"terminated": true, "sessionId": id})
}
