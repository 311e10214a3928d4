package domain

import (
	"strings"
	"time"
)

// ChannelKind identifies the transport a message traveled over. iMessage is
// receipt-capable; SMS has no delivery or read receipts.
type ChannelKind int

const (
	ChannelSMS ChannelKind = iota
	ChannelIMessage
)

// String returns the string representation of the ChannelKind.
func (c ChannelKind) String() string {
	switch c {
	case ChannelIMessage:
		return "iMessage"
	case ChannelSMS:
		return "SMS"
	default:
		return "SMS"
	}
}

// Rich reports whether the channel supports delivery/read receipts.
func (c ChannelKind) Rich() bool {
	return c == ChannelIMessage
}

// ChannelFromService maps the chat.db service column to a ChannelKind.
func ChannelFromService(service string) ChannelKind {
	if strings.Contains(service, "iMessage") {
		return ChannelIMessage
	}
	return ChannelSMS
}

// Attachment is a file attached to an inbound message. Path is absolute;
// chat.db stores attachment paths relative to the user home directory.
type Attachment struct {
	Filename     string
	Path         string
	MimeType     string
	SizeBytes    int64
	TransferName string
}

// IsImage reports whether the attachment carries an image MIME type.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// InboundMessage is a message row read from chat.db. Immutable after
// construction; the bridge never writes to the store.
type InboundMessage struct {
	// RowID is the message ROWID in chat.db, the watcher's cursor unit.
	RowID int64
	// GUID is the store-assigned unique identifier, used as the webhook
	// message id and as the retry queue dedup key.
	GUID        string
	Phone       string
	Text        string
	ReceivedAt  time.Time
	IsFromMe    bool
	Channel     ChannelKind
	Attachments []Attachment
}

// StatusKind is the kind of receipt observed for a sent message.
type StatusKind int

const (
	StatusDelivered StatusKind = iota
	StatusRead
)

// String returns the string representation of the StatusKind.
func (k StatusKind) String() string {
	if k == StatusRead {
		return "read"
	}
	return "delivered"
}

// StatusUpdate represents a delivery/read status change for a sent message.
type StatusUpdate struct {
	GUID      string
	Phone     string
	Kind      StatusKind
	Timestamp time.Time
	Channel   ChannelKind
}
