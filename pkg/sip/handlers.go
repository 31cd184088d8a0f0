package sip

import (
	"log/slog"

	"github.com/btafoya/pronto/internal/callstate"
	"github.com/emiago/sipgo/sip"
)

// handleInvite processes INVITE requests for incoming calls
func (s *Server) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	s.onInvite(req, tx)
}

func (s *Server) onInvite(req *sip.Request, tx responder) {
	metricRequests.WithLabelValues("INVITE").Inc()
	callID := req.CallID().Value()

	// Re-INVITEs on a tracked call carry no new caller information
	if existing := s.sessions.Get(callID); existing != nil && existing.IsActive() {
		slog.Debug("Ignoring re-INVITE", "call_id", callID)
		s.sendResponse(tx, req, sip.StatusOK, "OK", AnswerSDP(req.Body()))
		return
	}

	s.sendResponse(tx, req, sip.StatusTrying, "Trying", nil)

	session := NewCallSession(req, tx)
	s.sessions.Add(session)

	slog.Info("Incoming call",
		"call_id", callID,
		"from", session.RemoteURI,
		"withheld", session.FromNumber == "",
	)

	s.sendResponse(tx, req, sip.StatusRinging, "Ringing", nil)
	s.emit(callstate.StateRinging, session.FromNumber, callID)
}

// handleAck processes ACK requests
func (s *Server) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	slog.Debug("Received ACK request", "call_id", req.CallID().Value())
}

// handleBye processes BYE requests to end calls
func (s *Server) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	s.onBye(req, tx)
}

func (s *Server) onBye(req *sip.Request, tx responder) {
	metricRequests.WithLabelValues("BYE").Inc()
	callID := req.CallID().Value()

	if session := s.sessions.Get(callID); session != nil && session.IsActive() {
		if err := session.SetState(CallStateTerminated); err != nil {
			slog.Warn("Failed to set terminated state", "error", err, "call_id", callID)
		}
		slog.Info("Call terminated", "call_id", callID, "duration", session.Duration())
		s.emit(callstate.StateIdle, "", callID)
	}

	s.sendResponse(tx, req, sip.StatusOK, "OK", nil)
}

// handleCancel processes CANCEL requests
func (s *Server) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	s.onCancel(req, tx)
}

func (s *Server) onCancel(req *sip.Request, tx responder) {
	metricRequests.WithLabelValues("CANCEL").Inc()
	callID := req.CallID().Value()

	if session := s.sessions.Get(callID); session != nil && session.GetState() == CallStateRinging {
		if err := session.SetState(CallStateTerminated); err != nil {
			slog.Warn("Failed to set terminated state", "error", err, "call_id", callID)
		}
		// The transaction layer may already have terminated the INVITE
		if err := session.respond(statusRequestTerminated, "Request Terminated", nil); err != nil {
			slog.Debug("Could not answer cancelled INVITE", "call_id", callID, "error", err)
		}
		slog.Info("Call cancelled", "call_id", callID)
		s.emit(callstate.StateIdle, "", callID)
	}

	s.sendResponse(tx, req, sip.StatusOK, "OK", nil)
}

// handleOptions processes OPTIONS requests (health check / capabilities)
func (s *Server) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	metricRequests.WithLabelValues("OPTIONS").Inc()
	slog.Debug("Received OPTIONS request", "from", req.From().Address.String())

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, OPTIONS, BYE"))
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))

	if err := tx.Respond(res); err != nil {
		slog.Error("Failed to send OPTIONS response", "error", err)
	}
}

// sendResponse sends a response with an optional SDP body
func (s *Server) sendResponse(tx responder, req *sip.Request, statusCode sip.StatusCode, reason string, body []byte) {
	res := sip.NewResponseFromRequest(req, statusCode, reason, body)
	if body != nil {
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	if err := tx.Respond(res); err != nil {
		slog.Error("Failed to send response", "error", err, "status", statusCode)
	}
}

// emit forwards a raw call-state event to the normalizer
func (s *Server) emit(state, number, callID string) {
	if s.sink == nil {
		return
	}
	s.sink.Submit(&callstate.RawEvent{
		State:  state,
		Number: number,
		Call:   callstate.CallRef{Source: callstate.SourceSIP, ID: callID},
	})
}
