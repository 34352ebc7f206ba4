package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/patchwork-dev/patchwork/common/logger"
	"github.com/patchwork-dev/patchwork/compiler"
	"github.com/patchwork-dev/patchwork/protocol"
	"github.com/patchwork-dev/patchwork/runtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server exposes the composition's control surface over HTTP and its
// telemetry over WebSocket.
type Server struct {
	module *compiler.Module
	cs     *runtime.CompositionState
	stream *TelemetryStream
	log    *logger.Logger
	echo   *echo.Echo
}

// NewServer wires the routes.
func NewServer(module *compiler.Module, cs *runtime.CompositionState, stream *TelemetryStream, log *logger.Logger) *Server {
	s := &Server{module: module, cs: cs, stream: stream, log: log}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	e.POST("/control", s.handleControl)
	e.GET("/ws", s.handleWebSocket)

	s.echo = e
	return s
}

// Start serves until the context is canceled.
func (s *Server) Start(ctx context.Context, port int) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// handleControl accepts one framed control request in the request body
// and answers with the framed reply.
func (s *Server) handleControl(c echo.Context) error {
	req, err := protocol.ReadMessage(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	reply, err := s.dispatch(req)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	var buf bytes.Buffer
	if err := reply.Write(&buf); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "application/octet-stream", buf.Bytes())
}

// dispatch maps control requests onto the module's entry points and the
// runtime, producing the mirrored reply.
func (s *Server) dispatch(req *protocol.Message) (*protocol.Message, error) {
	st := s.cs.Runtime
	m := s.module
	code := protocol.RequestCode(req.Code)
	reply := protocol.NewMessage(protocol.ReplyFor(code))

	switch code {
	case protocol.RequestCompositionStop:
		st.Telemetry().Send(runtime.StopRequested{})

	case protocol.RequestCompositionPause:
		st.Pause()

	case protocol.RequestCompositionUnpause:
		st.Unpause()

	case protocol.RequestInputPortValueModify:
		portID, err := req.String(0)
		if err != nil {
			return nil, err
		}
		valueJSON, err := req.String(1)
		if err != nil {
			return nil, err
		}
		m.SetInputPortValue(s.cs, portID, valueJSON)

	case protocol.RequestInputPortValueRetrieve:
		portID, err := req.String(0)
		if err != nil {
			return nil, err
		}
		reply.AppendString(m.GetInputPortValue(s.cs, portID, false))

	case protocol.RequestOutputPortValueRetrieve:
		interprocess, err := req.Bool(0)
		if err != nil {
			return nil, err
		}
		portID, err := req.String(1)
		if err != nil {
			return nil, err
		}
		reply.AppendString(m.GetOutputPortValue(s.cs, portID, interprocess))

	case protocol.RequestInputPortSummaryRetrieve:
		portID, err := req.String(0)
		if err != nil {
			return nil, err
		}
		reply.AppendString(m.CompositionGetPortValue(s.cs, portID, runtime.SerializeSummary, true))

	case protocol.RequestOutputPortSummaryRetrieve:
		portID, err := req.String(0)
		if err != nil {
			return nil, err
		}
		reply.AppendString(m.CompositionGetPortValue(s.cs, portID, runtime.SerializeSummary, true))

	case protocol.RequestTriggerPortFireEvent:
		portID, err := req.String(0)
		if err != nil {
			return nil, err
		}
		m.FireTriggerPortEvent(s.cs, portID)

	case protocol.RequestPublishedInputNamesRetrieve:
		for _, name := range m.GetPublishedInputPortNames() {
			reply.AppendString(name)
		}
	case protocol.RequestPublishedInputTypesRetrieve:
		for _, t := range m.GetPublishedInputPortTypes() {
			reply.AppendString(t)
		}
	case protocol.RequestPublishedInputDetailsRetrieve:
		for _, d := range m.GetPublishedInputPortDetails() {
			reply.AppendString(d)
		}
	case protocol.RequestPublishedOutputNamesRetrieve:
		for _, name := range m.GetPublishedOutputPortNames() {
			reply.AppendString(name)
		}
	case protocol.RequestPublishedOutputTypesRetrieve:
		for _, t := range m.GetPublishedOutputPortTypes() {
			reply.AppendString(t)
		}
	case protocol.RequestPublishedOutputDetailsRetrieve:
		for _, d := range m.GetPublishedOutputPortDetails() {
			reply.AppendString(d)
		}

	case protocol.RequestPublishedInputPortFireEvent:
		names := make([]string, 0, len(req.Parts))
		for i := range req.Parts {
			name, err := req.String(i)
			if err != nil {
				return nil, err
			}
			names = append(names, name)
		}
		m.FirePublishedInputPortEvent(s.cs, names)

	case protocol.RequestPublishedInputPortValueModify:
		name, err := req.String(0)
		if err != nil {
			return nil, err
		}
		valueJSON, err := req.String(1)
		if err != nil {
			return nil, err
		}
		m.SetPublishedInputPortValue(s.cs, name, valueJSON)

	case protocol.RequestPublishedInputPortValueRetrieve:
		name, err := req.String(0)
		if err != nil {
			return nil, err
		}
		reply.AppendString(m.GetPublishedInputPortValue(s.cs, name, false))

	case protocol.RequestPublishedOutputPortValueRetrieve:
		name, err := req.String(0)
		if err != nil {
			return nil, err
		}
		reply.AppendString(m.GetPublishedOutputPortValue(s.cs, name, false))

	case protocol.RequestSlowHeartbeat:
		// Nothing to do; the reply is the acknowledgment.

	case protocol.RequestInputPortTelemetrySubscribe,
		protocol.RequestOutputPortTelemetrySubscribe:
		portID, err := req.String(0)
		if err != nil {
			return nil, err
		}
		st.Telemetry().SubscribePortData(portID)

	case protocol.RequestInputPortTelemetryUnsubscribe,
		protocol.RequestOutputPortTelemetryUnsubscribe:
		portID, err := req.String(0)
		if err != nil {
			return nil, err
		}
		st.Telemetry().UnsubscribePortData(portID)

	case protocol.RequestAllTelemetrySubscribe:
		st.Telemetry().SubscribePortData("")
	case protocol.RequestAllTelemetryUnsubscribe:
		st.Telemetry().UnsubscribePortData("")

	case protocol.RequestEventTelemetrySubscribe,
		protocol.RequestEventTelemetryUnsubscribe:
		// Event telemetry is always on; the subscription only gates data
		// summaries.

	default:
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unknown request code")
	}

	return reply, nil
}

// handleWebSocket upgrades the connection and attaches it to the
// telemetry stream. The optional kinds query parameter narrows what the
// subscriber sees, e.g. /ws?kinds=events,errors.
func (s *Server) handleWebSocket(c echo.Context) error {
	var kinds []string
	if raw := c.QueryParam("kinds"); raw != "" {
		kinds = strings.Split(raw, ",")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", logger.Err(err))
		return nil
	}

	s.stream.Attach(conn, kinds)
	return nil
}
