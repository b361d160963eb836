package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vote-relay/internal/domain"
	"github.com/vote-relay/internal/pkg/validate"
)

// Inbound event names.
const (
	EventRegister                    = "register"
	EventRegisterHost                = "register_host"
	EventSendMessage                 = "send_message"
	EventVoteCasted                  = "vote_casted"
	EventNewSession                  = "new_session"
	EventRejectSession               = "reject_session"
	EventSessionStartedByHost        = "session_started_by_host"
	EventSessionStartedByGuest       = "session_started_by_guest"
	EventReceivedOffchainAttestation = "received_offchain_attestation"
)

type registerHostPayload struct {
	HostAddress string `json:"hostAddress" validate:"required"`
	ChannelID   string `json:"channelId"`
	SocketID    string `json:"socketId"`
}

type sendMessagePayload struct {
	Addresses []string        `json:"addresses" validate:"required,min=1,dive,required"`
	Message   json.RawMessage `json:"message" validate:"required"`
}

type voteCastedPayload struct {
	ReceiverAddress   string          `json:"receiver_address" validate:"required"`
	SavedNotification json.RawMessage `json:"savedNotification" validate:"required"`
}

type newSessionPayload struct {
	HostAddress     string          `json:"host_address"`
	DataToSendHost  json.RawMessage `json:"dataToSendHost"`
	AttendeeAddress string          `json:"attendee_address"`
	DataToSendGuest json.RawMessage `json:"dataToSendGuest"`
}

type rejectSessionPayload struct {
	AttendeeAddress string          `json:"attendee_address" validate:"required"`
	DataToSendGuest json.RawMessage `json:"dataToSendGuest" validate:"required"`
}

type sessionStartedByHostPayload struct {
	AttendeeAddress string          `json:"attendeeAddress" validate:"required"`
	DataToSendGuest json.RawMessage `json:"dataToSendGuest" validate:"required"`
}

type sessionStartedByGuestPayload struct {
	HostAddress    string          `json:"hostAddress" validate:"required"`
	DataToSendHost json.RawMessage `json:"dataToSendHost" validate:"required"`
}

type attestationPayload struct {
	ReceiverAddress string          `json:"receiver_address" validate:"required"`
	DataToSend      json.RawMessage `json:"dataToSend" validate:"required"`
}

func (h *Hub) dispatch(ctx context.Context, c *client, f Frame) error {
	switch f.Event {
	case EventRegister:
		return h.onRegister(c, f.Data)
	case EventRegisterHost:
		var p registerHostPayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		return h.onRegisterHost(ctx, c, p)
	case EventSendMessage:
		var p sendMessagePayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		h.onSendMessage(p)
		return nil
	case EventVoteCasted:
		var p voteCastedPayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		h.notifyHost(p.ReceiverAddress, p.SavedNotification)
		return nil
	case EventNewSession:
		var p newSessionPayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		if p.HostAddress == "" && p.AttendeeAddress == "" {
			return fmt.Errorf("%s: host_address or attendee_address required: %w", f.Event, domain.ErrBadRequest)
		}
		if p.HostAddress != "" && len(p.DataToSendHost) > 0 {
			h.notifyHost(p.HostAddress, p.DataToSendHost)
		}
		if p.AttendeeAddress != "" && len(p.DataToSendGuest) > 0 {
			h.notifyHost(p.AttendeeAddress, p.DataToSendGuest)
		}
		return nil
	case EventRejectSession:
		var p rejectSessionPayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		h.notifyHost(p.AttendeeAddress, p.DataToSendGuest)
		return nil
	case EventSessionStartedByHost:
		var p sessionStartedByHostPayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		h.notifyHost(p.AttendeeAddress, p.DataToSendGuest)
		return nil
	case EventSessionStartedByGuest:
		var p sessionStartedByGuestPayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		h.notifyHost(p.HostAddress, p.DataToSendHost)
		return nil
	case EventReceivedOffchainAttestation:
		var p attestationPayload
		if err := decode(f.Data, &p); err != nil {
			return err
		}
		h.notifyHost(p.ReceiverAddress, p.DataToSend)
		return nil
	default:
		return fmt.Errorf("unknown event %q: %w", f.Event, domain.ErrBadRequest)
	}
}

// onRegister accepts either a bare address string or {"address": "..."}.
func (h *Hub) onRegister(c *client, data json.RawMessage) error {
	var addr string
	if err := json.Unmarshal(data, &addr); err != nil {
		var obj struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("register payload: %w", domain.ErrBadRequest)
		}
		addr = obj.Address
	}
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("register: address required: %w", domain.ErrBadRequest)
	}
	h.registry.Register(addr, c.id, domain.RoleGeneric)
	h.log.Debug("address registered", "address", domain.NormalizeAddress(addr), "channel", c.id)
	return nil
}

// onRegisterHost maps hostAddress to a channel (the caller's own unless
// another open channel is named) and replays recent unread notifications.
func (h *Hub) onRegisterHost(ctx context.Context, c *client, p registerHostPayload) error {
	channelID := p.ChannelID
	if channelID == "" {
		channelID = p.SocketID
	}
	if channelID == "" {
		channelID = c.id
	}
	if !h.isOpen(channelID) {
		return fmt.Errorf("register_host: channel %s: %w", channelID, domain.ErrChannelClosed)
	}
	h.registry.Register(p.HostAddress, channelID, domain.RoleHost)
	h.log.Info("host registered", "address", domain.NormalizeAddress(p.HostAddress), "channel", channelID)

	if h.recent == nil {
		return nil
	}
	pending, err := h.recent.RecentUnread(ctx, p.HostAddress)
	if err != nil {
		h.log.Error("load pending notifications", "address", p.HostAddress, "err", err)
		return nil
	}
	for _, n := range pending {
		if err := h.Push(channelID, domain.EventNewNotification, n); err != nil {
			h.log.Warn("replay notification", "channel", channelID, "err", err)
			break
		}
	}
	return nil
}

func (h *Hub) onSendMessage(p sendMessagePayload) {
	for _, addr := range p.Addresses {
		ch, ok := h.registry.Lookup(addr, domain.RoleGeneric)
		if !ok {
			h.log.Debug("no active channel for message", "address", addr)
			continue
		}
		if err := h.Push(ch, domain.EventReceiveMessage, p.Message); err != nil {
			h.log.Warn("send message", "address", addr, "err", err)
		}
	}
}

// notifyHost forwards payload as new_notification to address's host channel, if any.
func (h *Hub) notifyHost(address string, payload json.RawMessage) {
	ch, ok := h.registry.Lookup(address, domain.RoleHost)
	if !ok {
		return
	}
	if err := h.Push(ch, domain.EventNewNotification, payload); err != nil {
		h.log.Warn("forward notification", "address", address, "channel", ch, "err", err)
	}
}

func decode(data json.RawMessage, dst interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data: %w", domain.ErrBadRequest)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode payload: %w", domain.ErrBadRequest)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrBadRequest)
	}
	return nil
}
