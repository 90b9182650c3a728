// Package plugin defines the command semantics a plugin transport carries,
// without specifying the transport itself (the socket or process boundary
// is an external collaborator, out of scope per the purpose statement).
package plugin

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strconv"

	"github.com/tidwall/gjson"
)

// CommandID identifies one plugin command.
type CommandID uint16

const (
	CmdValidateContent CommandID = iota + 1
	CmdExtendFirewall
	CmdExtendRanking
	CmdObserveWrite
)

// Status is the reply status word.
type Status uint16

const (
	StatusOK Status = iota
	StatusRejected
	StatusError
)

// Frame is one length-prefixed request or reply: a 2-byte command/status
// word, a 4-byte payload length, then the payload itself.
type Frame struct {
	Word    uint16
	Payload []byte
}

// WriteFrame encodes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	header := make([]byte, 6)
	binary.BigEndian.PutUint16(header[0:2], f.Word)
	binary.BigEndian.PutUint32(header[2:6], uint32(len(f.Payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(f.Payload)
	return err
}

// ReadFrame decodes one Frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	word := binary.BigEndian.Uint16(header[0:2])
	length := binary.BigEndian.Uint32(header[2:6])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Word: word, Payload: payload}, nil
}

// ValidateContentHandler implements CmdValidateContent: a plugin-supplied
// extension to field validation beyond what Registry schemas express.
type ValidateContentHandler interface {
	ValidateContent(ctx context.Context, entityType, field string, value string) error
}

// ExtendFirewallHandler implements CmdExtendFirewall: see
// firewall.ExternalRule for the in-process equivalent this command
// ultimately dispatches to over the transport.
type ExtendFirewallHandler interface {
	ExtendFirewall(ctx context.Context, rule, value string, params map[string]string) (pass bool, modified string, reason string, err error)
}

// ExtendRankingHandler implements CmdExtendRanking: a plugin-supplied
// adjustment to a candidate's search score.
type ExtendRankingHandler interface {
	ExtendRanking(ctx context.Context, entityID string, baseScore float64) (adjustedScore float64, err error)
}

// ObserveWriteHandler implements CmdObserveWrite: a read-only notification
// fired after a UCG write commits; observers must not mutate the graph.
type ObserveWriteHandler interface {
	ObserveWrite(ctx context.Context, entityID, operation string)
}

// Registry dispatches an incoming command word to its registered handler.
type Registry struct {
	validate ValidateContentHandler
	firewall ExtendFirewallHandler
	ranking  ExtendRankingHandler
	observe  ObserveWriteHandler
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) RegisterValidateContent(h ValidateContentHandler) { r.validate = h }
func (r *Registry) RegisterExtendFirewall(h ExtendFirewallHandler)   { r.firewall = h }
func (r *Registry) RegisterExtendRanking(h ExtendRankingHandler)     { r.ranking = h }
func (r *Registry) RegisterObserveWrite(h ObserveWriteHandler)       { r.observe = h }

// ErrNoHandler is returned when a command arrives with no registered
// handler for its CommandID.
var ErrNoHandler = errors.New("plugin: no handler registered for command")

// Dispatch reports whether a handler is registered for cmd without touching
// any payload; HandleFrame is the full request/reply path.
func (r *Registry) Dispatch(cmd CommandID) error {
	switch cmd {
	case CmdValidateContent:
		if r.validate == nil {
			return ErrNoHandler
		}
	case CmdExtendFirewall:
		if r.firewall == nil {
			return ErrNoHandler
		}
	case CmdExtendRanking:
		if r.ranking == nil {
			return ErrNoHandler
		}
	case CmdObserveWrite:
		if r.observe == nil {
			return ErrNoHandler
		}
	default:
		return ErrNoHandler
	}
	return nil
}

// Request payloads are small JSON documents; fields are pulled with gjson
// so the router never pays a full decode for a command it ends up
// rejecting. Reply frames carry a Status word and an optional payload
// (modified value, adjusted score, or rejection reason).
func (r *Registry) HandleFrame(ctx context.Context, req Frame) Frame {
	cmd := CommandID(req.Word)
	if err := r.Dispatch(cmd); err != nil {
		return Frame{Word: uint16(StatusError), Payload: []byte(err.Error())}
	}
	p := gjson.ParseBytes(req.Payload)
	switch cmd {
	case CmdValidateContent:
		err := r.validate.ValidateContent(ctx, p.Get("type").String(), p.Get("field").String(), p.Get("value").String())
		if err != nil {
			return Frame{Word: uint16(StatusRejected), Payload: []byte(err.Error())}
		}
		return Frame{Word: uint16(StatusOK)}
	case CmdExtendFirewall:
		params := map[string]string{}
		p.Get("params").ForEach(func(k, v gjson.Result) bool {
			params[k.String()] = v.String()
			return true
		})
		pass, modified, reason, err := r.firewall.ExtendFirewall(ctx, p.Get("rule").String(), p.Get("value").String(), params)
		if err != nil {
			return Frame{Word: uint16(StatusError), Payload: []byte(err.Error())}
		}
		if !pass {
			return Frame{Word: uint16(StatusRejected), Payload: []byte(reason)}
		}
		return Frame{Word: uint16(StatusOK), Payload: []byte(modified)}
	case CmdExtendRanking:
		adjusted, err := r.ranking.ExtendRanking(ctx, p.Get("entity_id").String(), p.Get("score").Float())
		if err != nil {
			return Frame{Word: uint16(StatusError), Payload: []byte(err.Error())}
		}
		return Frame{Word: uint16(StatusOK), Payload: strconv.AppendFloat(nil, adjusted, 'f', -1, 64)}
	case CmdObserveWrite:
		r.observe.ObserveWrite(ctx, p.Get("entity_id").String(), p.Get("operation").String())
		return Frame{Word: uint16(StatusOK)}
	}
	return Frame{Word: uint16(StatusError), Payload: []byte(ErrNoHandler.Error())}
}
