package dispatch

import (
	"strings"
	"time"
)

// AlertStatus is the negotiation state of an SOS booking.
type AlertStatus string

const (
	StatusSearching            AlertStatus = "SEARCHING"
	StatusPendingClinicConfirm AlertStatus = "PENDING_CLINIC_CONFIRM"
	StatusConfirmed            AlertStatus = "CONFIRMED"
	StatusCancelled            AlertStatus = "CANCELLED"
	StatusNoClinic             AlertStatus = "NO_CLINIC"
)

// Inbound event discriminators.
const (
	EventClinicNotified   = "CLINIC_NOTIFIED"
	EventStatusChanged    = "SOS_STATUS_CHANGED"
	EventConfirmedByOther = "SOS_CONFIRMED_BY_OTHER_CLINIC"
)

var advances = map[AlertStatus][]AlertStatus{
	StatusSearching:            {StatusPendingClinicConfirm, StatusCancelled, StatusNoClinic},
	StatusPendingClinicConfirm: {StatusConfirmed, StatusCancelled, StatusNoClinic},
}

// CanAdvance reports whether an SOS booking may move from one status to another.
func CanAdvance(from, to AlertStatus) bool {
	for _, next := range advances[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Resolved is true once the negotiation has ended.
func (s AlertStatus) Resolved() bool {
	switch s {
	case StatusConfirmed, StatusCancelled, StatusNoClinic:
		return true
	}
	return false
}

// Alert is an SOS request presented to one clinic.
type Alert struct {
	BookingID   string      `json:"bookingId"`
	BookingCode string      `json:"bookingCode,omitempty"`
	Event       string      `json:"event,omitempty"`
	Status      AlertStatus `json:"status"`
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
	Address     string      `json:"address,omitempty"`
	Symptoms    string      `json:"symptoms,omitempty"`
	DistanceKm  float64     `json:"distanceKm"`
	PetName     string      `json:"petName,omitempty"`
	OwnerName   string      `json:"ownerName,omitempty"`
	OwnerPhone  string      `json:"ownerPhone,omitempty"`
	NotifiedAt  time.Time   `json:"notifiedAt"`
}

// Message is one inbound realtime message for a clinic.
type Message struct {
	Event     string      `json:"event"`
	Alert     *Alert      `json:"alert,omitempty"`
	BookingID string      `json:"bookingId,omitempty"`
	Status    AlertStatus `json:"status,omitempty"`
	ClinicID  string      `json:"clinicId,omitempty"`
}

// Booking returns the booking the message refers to.
func (m Message) Booking() string {
	if id := strings.TrimSpace(m.BookingID); id != "" {
		return id
	}
	if m.Alert != nil {
		return strings.TrimSpace(m.Alert.BookingID)
	}
	return ""
}

// Resolves reports whether the message ends the negotiation for this clinic.
func (m Message) Resolves() bool {
	if m.Event == EventConfirmedByOther {
		return true
	}
	if m.Status.Resolved() {
		return true
	}
	return m.Alert != nil && m.Alert.Status.Resolved()
}

// Action names for outbound messages.
const (
	ActionConfirm = "confirm"
	ActionDecline = "decline"
)

// Action is an outbound confirm or decline.
type Action struct {
	Action    string `json:"action"`
	BookingID string `json:"bookingId"`
	ClinicID  string `json:"clinicId,omitempty"`
	StaffID   string `json:"staffId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func ConfirmAction(clinicID, bookingID, staffID string) Action {
	return Action{Action: ActionConfirm, ClinicID: clinicID, BookingID: bookingID, StaffID: staffID}
}

func DeclineAction(clinicID, bookingID, reason string) Action {
	return Action{Action: ActionDecline, ClinicID: clinicID, BookingID: bookingID, Reason: reason}
}
